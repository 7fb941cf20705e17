package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 3 {
		t.Errorf("maxFailures = %d, want 3", b.maxFailures)
	}
	if b.coolOff != 30*time.Second {
		t.Errorf("coolOff = %v, want 30s", b.coolOff)
	}
	if b.probes != 2 {
		t.Errorf("probes = %d, want 2", b.probes)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("initial state = %v, want closed", got)
	}
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, CoolOff: time.Minute, Now: clk.Now})

	for range 2 {
		if err := b.Do(fail); !errors.Is(err, errTest) {
			t.Fatalf("Do = %v, want errTest", err)
		}
	}
	// A success resets the run.
	_ = b.Do(succeed)
	for range 2 {
		_ = b.Do(fail)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v after interrupted run, want closed", got)
	}

	_ = b.Do(fail)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Do while open = %v (called %v), want ErrCircuitOpen without call", err, called)
	}
}

func TestBreaker_HalfOpenCloses(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolOff: time.Minute, Probes: 2, Now: clk.Now})
	_ = b.Do(fail)

	clk.Advance(time.Minute)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v after cool-off, want half-open", got)
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v after one probe, want half-open", got)
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v after probes, want closed", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolOff: time.Minute, Now: clk.Now})
	_ = b.Do(fail)
	clk.Advance(time.Minute)

	if err := b.Do(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe = %v, want errTest", err)
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	// The cool-off restarts from the failed probe.
	clk.Advance(30 * time.Second)
	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	clk := newClock()
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolOff: time.Second, Probes: 1, Now: clk.Now})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolOff: time.Hour})
	_ = b.Do(fail)
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	b.Reset()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v after Reset, want closed", got)
	}
	if err := b.Do(succeed); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1000})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = b.Do(fail)
			} else {
				_ = b.Do(succeed)
			}
			_ = b.State()
		}()
	}
	wg.Wait()
}
