package playback

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrTrackNotFound is returned when a track reference does not resolve to a
// readable file. It is returned before anything is loaded into the sink.
var ErrTrackNotFound = errors.New("playback: track not found")

const (
	assetScheme = "asset:///"
	fileScheme  = "file://"
)

// ResolveTrack maps a track reference to a filesystem path and checks that
// the file exists. Supported forms:
//
//   - asset:///name.opus, relative to assetDir
//   - file:///abs/path.wav
//   - a bare filesystem path
//
// Asset references must stay inside assetDir.
func ResolveTrack(track, assetDir string) (string, error) {
	var path string
	switch {
	case strings.HasPrefix(track, assetScheme):
		rel := filepath.FromSlash(strings.TrimPrefix(track, assetScheme))
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("%w: asset %q escapes the asset directory", ErrTrackNotFound, rel)
		}
		path = filepath.Join(assetDir, rel)
	case strings.HasPrefix(track, fileScheme):
		u, err := url.Parse(track)
		if err != nil || u.Path == "" {
			return "", fmt.Errorf("%w: invalid file uri %q", ErrTrackNotFound, track)
		}
		path = filepath.FromSlash(u.Path)
	default:
		path = track
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty track reference", ErrTrackNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTrackNotFound, track, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrTrackNotFound, track)
	}
	return path, nil
}
