package campaign

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"prospect-engine/internal/domain"
)

// FileLock keeps ticks from overlapping across processes, so a `tick`
// command cannot run while `serve` is mid-tick on the same data dir.
type FileLock struct {
	fl *flock.Flock
}

func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("tick lock dir: %w", err)
	}
	return &FileLock{fl: flock.New(path)}, nil
}

// TryLock takes the lock without waiting. ErrTickInProgress means another
// process holds it.
func (l *FileLock) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("tick lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return domain.ErrTickInProgress
	}
	return nil
}

func (l *FileLock) Unlock() error {
	return l.fl.Unlock()
}
