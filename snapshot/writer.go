// Package snapshot turns captured frames into PNG files on disk. The
// expensive part, encoding, runs outside the compositor loop; the loop
// only hands over pixels and later picks up the outcome.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrEncode marks a frame the codec could not serialize.
	ErrEncode = errors.New("encode failed")
	// ErrWrite marks a finished encoding that could not reach disk.
	ErrWrite = errors.New("write failed")
)

// Writer stores frames as timestamped PNG files under one directory.
type Writer struct {
	dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Write encodes img and stores it, returning the full path of the new
// file. Failures wrap ErrEncode or ErrWrite so callers can tell which
// half went wrong. The directory is created on demand and an existing
// file with the same timestamp gets a numeric suffix instead of being
// overwritten.
func (w *Writer) Write(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	stamp := w.now().Format("20060102-150405")
	for i := 0; ; i++ {
		name := fmt.Sprintf("ewm-%s.png", stamp)
		if i > 0 {
			name = fmt.Sprintf("ewm-%s-%d.png", stamp, i)
		}
		path := filepath.Join(w.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return path, nil
	}
}
