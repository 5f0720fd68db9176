package out

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	historyout "sightsync/internal/modules/history/port/out"
	"sightsync/internal/platform/clock"
	apperrors "sightsync/internal/platform/errors"
)

// FileWakeLock keeps a lease file whose content is the expiry instant. Another
// process honours an unexpired lease; an expired one is taken over.
type FileWakeLock struct {
	path  string
	clock clock.Clock
}

func NewFileWakeLock(path string, clk clock.Clock) *FileWakeLock {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &FileWakeLock{path: path, clock: clk}
}

func (w *FileWakeLock) Acquire(_ context.Context, timeout time.Duration) (historyout.Lease, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: wake lease timeout must be positive", apperrors.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lease dir: %w", err)
	}
	now := w.clock.Now()
	if expiry, err := w.readExpiry(); err == nil && now.Before(expiry) {
		return nil, fmt.Errorf("%w: wake lease held until %s", apperrors.ErrSyncInProgress, expiry.Format(time.RFC3339))
	}
	expiry := now.Add(timeout)
	stamp := []byte(expiry.UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(w.path, stamp, 0o644); err != nil {
		return nil, fmt.Errorf("write wake lease: %w", err)
	}
	lease := &fileLease{path: w.path, stamp: string(stamp), held: true}
	lease.timer = time.AfterFunc(timeout, lease.expire)
	return lease, nil
}

func (w *FileWakeLock) readExpiry() (time.Time, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
}

type fileLease struct {
	mu    sync.Mutex
	path  string
	stamp string
	held  bool
	timer *time.Timer
}

func (l *fileLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Release is idempotent. It only removes the file if it still carries this lease's stamp.
func (l *fileLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	l.timer.Stop()
	return l.removeOwned()
}

func (l *fileLease) expire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	_ = l.removeOwned()
}

func (l *fileLease) removeOwned() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read wake lease: %w", err)
	}
	if strings.TrimSpace(string(raw)) != l.stamp {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove wake lease: %w", err)
	}
	return nil
}
