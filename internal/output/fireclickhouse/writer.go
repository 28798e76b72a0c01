package fireclickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tracetrigger/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
}

// Writer inserts fire records into a ClickHouse table over the HTTP
// interface, one JSONEachRow line per record.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// row is the flat table layout. FiredAt uses the DateTime64(3) text form.
type row struct {
	FireID        string  `json:"fire_id"`
	Trigger       string  `json:"trigger"`
	Kind          string  `json:"kind"`
	Spec          string  `json:"spec"`
	Message       string  `json:"message"`
	FiredAt       string  `json:"fired_at"`
	ProcessID     int     `json:"pid"`
	ThreadID      int     `json:"tid"`
	DurationMSec  float64 `json:"duration_msec"`
	ThresholdMSec float64 `json:"threshold_msec"`
	Value         float64 `json:"value"`
	Threshold     float64 `json:"threshold"`
	Pairs         int64   `json:"pairs"`
	MaxMSec       float64 `json:"max_msec"`
}

// NewWriter creates a ClickHouse writer. Database defaults to "default" and
// Table to "trigger_fires".
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "trigger_fires"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	endpoint := strings.TrimRight(cfg.URL, "/") + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}
	return &Writer{endpoint: endpoint, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

// WriteFired inserts records in a single request.
func (w *Writer) WriteFired(records []*models.TriggerFired) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, rec := range records {
		if err := enc.Encode(toRow(rec)); err != nil {
			return fmt.Errorf("failed to marshal fire record: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases idle connections.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func toRow(rec *models.TriggerFired) row {
	return row{
		FireID:        rec.FireID,
		Trigger:       rec.Trigger,
		Kind:          rec.Kind,
		Spec:          rec.Spec,
		Message:       rec.Message,
		FiredAt:       rec.FiredAt.UTC().Format("2006-01-02 15:04:05.000"),
		ProcessID:     rec.ProcessID,
		ThreadID:      rec.ThreadID,
		DurationMSec:  rec.Counts.DurationMSec,
		ThresholdMSec: rec.Counts.ThresholdMSec,
		Value:         rec.Counts.Value,
		Threshold:     rec.Counts.Threshold,
		Pairs:         rec.Counts.Pairs,
		MaxMSec:       rec.Counts.MaxMSec,
	}
}

func quoteIdent(v string) string {
	return "`" + strings.ReplaceAll(v, "`", "") + "`"
}
