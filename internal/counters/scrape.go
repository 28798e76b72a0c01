package counters

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ScrapeGatherer gathers metric families from a remote text exposition
// endpoint, such as a node or windows exporter.
type ScrapeGatherer struct {
	url    string
	client *http.Client
}

// NewScrapeGatherer creates a gatherer for url.
func NewScrapeGatherer(url string, timeout time.Duration) *ScrapeGatherer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ScrapeGatherer{url: url, client: &http.Client{Timeout: timeout}}
}

// Gather implements prometheus.Gatherer.
func (s *ScrapeGatherer) Gather() ([]*dto.MetricFamily, error) {
	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create scrape request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: status %s", s.url, resp.Status)
	}

	var parser expfmt.TextParser
	byName, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.url, err)
	}
	out := make([]*dto.MetricFamily, 0, len(byName))
	for _, mf := range byName {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out, nil
}
