package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "engine", Check: func(context.Context) error { return errors.New("stopped") }})

	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if body.Uptime == "" {
		t.Error("uptime missing")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "engine", Check: ok}, {Name: "track", Check: ok}},
			wantCode: http.StatusOK,
			want:     map[string]string{"engine": "ok", "track": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "engine", Check: func(context.Context) error { return errors.New("engine is Stopped") }},
				{Name: "track", Check: ok},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"engine": "fail: engine is Stopped", "track": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("status = %q, want %q", body.Status, wantStatus)
			}
			if len(body.Checks) != len(tt.want) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.want)
			}
			for k, v := range tt.want {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_TimeoutAppliesToSlowCheck(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})
	if code, body := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("code = %d, checks %v", code, body.Checks)
	}
}

func TestReadyz_RunsConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	block := func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "a", Check: block},
		Checker{Name: "b", Check: func(context.Context) error { close(release); return nil }},
	)
	start := time.Now()
	code, _ := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
	if time.Since(start) > time.Second {
		t.Error("checkers ran sequentially")
	}
}

func TestAdd(t *testing.T) {
	t.Parallel()
	h := New()
	h.Add(Checker{Name: "late", Check: func(context.Context) error { return errors.New("nope") }})
	if code, body := serve(t, h, "/readyz"); code != http.StatusServiceUnavailable || body.Checks["late"] == "" {
		t.Errorf("code = %d, checks %v", code, body.Checks)
	}
}

func TestFileCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "shhh_loop.opus")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := FileCheck("track", func() (string, error) { return file, nil }).Check(ctx); err != nil {
		t.Errorf("existing file: %v", err)
	}
	if err := FileCheck("track", func() (string, error) { return dir, nil }).Check(ctx); err == nil || !strings.Contains(err.Error(), "not a regular file") {
		t.Errorf("directory: %v", err)
	}
	if err := FileCheck("track", func() (string, error) { return filepath.Join(dir, "missing"), nil }).Check(ctx); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
	resolveErr := errors.New("bad reference")
	if err := FileCheck("track", func() (string, error) { return "", resolveErr }).Check(ctx); !errors.Is(err, resolveErr) {
		t.Errorf("resolve error: %v", err)
	}
}

func TestDirCheck(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "data")
	if err := DirCheck("data_dir", dir).Check(context.Background()); err != nil {
		t.Fatalf("DirCheck: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DirCheck("data_dir", file).Check(context.Background()); err == nil {
		t.Error("DirCheck on a file succeeded")
	}
}
