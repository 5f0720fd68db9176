package out

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/sugawarayuuta/sonnet"

	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
)

// FileNotifier appends notifications as JSON lines.
type FileNotifier struct {
	mu   sync.Mutex
	path string
}

func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path}
}

func (n *FileNotifier) Publish(_ context.Context, note domain.Notification) error {
	payload, err := sonnet.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(n.path), 0o755); err != nil {
		return fmt.Errorf("create notification dir: %w", err)
	}
	file, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}

// Tail returns the last limit notifications in emission order. Undecodable lines are skipped.
func (n *FileNotifier) Tail(_ context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	file, err := os.Open(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Notification{}, nil
		}
		return nil, fmt.Errorf("open notification log: %w", err)
	}
	defer file.Close()

	buffer := make([]domain.Notification, 0, limit)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		note := domain.Notification{}
		if err := sonnet.Unmarshal(line, &note); err != nil {
			continue
		}
		if len(buffer) < limit {
			buffer = append(buffer, note)
			continue
		}
		copy(buffer, buffer[1:])
		buffer[len(buffer)-1] = note
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan notification log: %w", err)
	}
	return buffer, nil
}

// LogNotifier writes each notification to the structured log.
type LogNotifier struct {
	log hclog.Logger
}

func NewLogNotifier(log hclog.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Publish(_ context.Context, note domain.Notification) error {
	args := []any{"action", string(note.Action), "run_id", note.RunID}
	if note.Device != "" {
		args = append(args, "device", note.Device)
	}
	if note.Sequence != 0 {
		args = append(args, "sequence", note.Sequence)
	}
	for key, value := range note.Fields {
		args = append(args, key, value)
	}
	n.log.Info("notification", args...)
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []historyout.Notifier

func (m MultiNotifier) Publish(ctx context.Context, note domain.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
