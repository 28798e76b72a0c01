package firehttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// Config configures the webhook writer. Retries applies to transport
// errors and 5xx responses; 4xx responses fail at once.
type Config struct {
	URL        string
	Timeout    time.Duration
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
}

// Writer posts fire records to a webhook as a JSON array.
type Writer struct {
	cfg    Config
	client *http.Client
}

// NewWriter creates a webhook writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http output URL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Writer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// WriteFired delivers records, retrying server-side failures.
func (w *Writer) WriteFired(records []*models.TriggerFired) error {
	if len(records) == 0 {
		return nil
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal fire records: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.Retries; attempt++ {
		if attempt > 0 {
			logger.Warnf("Retrying fire webhook (%d/%d): %v", attempt, w.cfg.Retries, lastErr)
			time.Sleep(w.cfg.RetryDelay * time.Duration(attempt))
		}
		retry, err := w.post(body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (w *Writer) post(body []byte) (retry bool, err error) {
	req, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tracetrigger")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("http request failed with status %s", resp.Status)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("http request rejected with status %s", resp.Status)
	}
	return false, nil
}

// Close releases idle connections.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
