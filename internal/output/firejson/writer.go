package firejson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// Writer appends fire records to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	owned   bool
	mu      sync.Mutex
}

// NewWriter opens path for appending, creating parent directories. A path
// of "-" writes to standard output.
func NewWriter(path string) (*Writer, error) {
	if path == "-" {
		return &Writer{file: os.Stdout, encoder: json.NewEncoder(os.Stdout)}, nil
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Fire record writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
		owned:   true,
	}, nil
}

// WriteFired writes one line per record.
func (w *Writer) WriteFired(records []*models.TriggerFired) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return os.ErrClosed
	}
	for _, rec := range records {
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode fire record: %w", err)
		}
	}
	if !w.owned {
		return nil
	}
	return w.file.Sync()
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var err error
	if w.owned {
		err = w.file.Close()
	}
	w.file = nil
	return err
}
