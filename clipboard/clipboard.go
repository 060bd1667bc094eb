// Package clipboard copies finished transcripts to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"
)

// ErrUnavailable means no clipboard tool was found (xclip, xsel, wl-copy on
// Linux).
var ErrUnavailable = errors.New("clipboard unavailable")

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnavailable
	}
	return cb.WriteAll(text)
}

// CopyTimeout is Copy bounded by d. Clipboard helpers can hang when no
// display server is reachable.
func CopyTimeout(text string, d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- Copy(text) }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return fmt.Errorf("clipboard copy timed out after %s", d)
	}
}

// Verify writes a probe string and reads it back.
func Verify(probe string, d time.Duration) error {
	if err := CopyTimeout(probe, d); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got, err := Read()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if got != probe {
		return fmt.Errorf("mismatch: wrote %q, got %q", probe, got)
	}
	return nil
}
