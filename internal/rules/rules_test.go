package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tracetrigger/pkg/models"
)

const slowRequestRule = `title: Slow checkout request
id: 7b1f0c2e-1a5e-4b8a-9d0e-3c2f5a6b7c8d
logsource:
  product: windows
detection:
  selection:
    Url|contains: /checkout
  condition: selection
`

const aggregationRule = `title: Many requests
logsource:
  product: windows
detection:
  selection:
    Url: /x
  condition: selection
  timeframe: 1m
`

func writeRule(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSigmaPredicateMatchesPayloadField(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "slow.yml", slowRequestRule)
	writeRule(t, dir, "agg.yaml", aggregationRule)
	writeRule(t, dir, "notes.txt", "ignored")

	p, stats, err := NewSigmaPredicate(dir)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalFiles)
	require.Equal(t, 1, stats.Loaded)
	require.Equal(t, 1, stats.SkippedComplex)

	hit := &models.TraceEvent{EventName: "RequestStop", Fields: map[string]interface{}{"Url": "/api/checkout/42"}}
	miss := &models.TraceEvent{EventName: "RequestStop", Fields: map[string]interface{}{"Url": "/api/cart"}}
	title, ok := p.MatchedRule(hit)
	require.True(t, ok)
	require.Equal(t, "Slow checkout request", title)
	require.False(t, p.Match(miss))
}

func TestSigmaPredicateLogsourceService(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "svc.yml", `title: Orders only
logsource:
  service: Contoso-Orders
detection:
  selection:
    Status: failed
  condition: selection
`)
	p, _, err := NewSigmaPredicate(dir)
	require.NoError(t, err)

	fields := map[string]interface{}{"Status": "failed"}
	require.True(t, p.Match(&models.TraceEvent{ProviderName: "contoso-orders", Fields: fields}))
	require.False(t, p.Match(&models.TraceEvent{ProviderName: "Contoso-Billing", Fields: fields}))
}

func TestSigmaPredicateSkipsTimeframeRule(t *testing.T) {
	dir := t.TempDir()
	path := writeRule(t, dir, "agg.yml", aggregationRule)
	require.True(t, hasTimeframe([]byte(aggregationRule)))
	require.False(t, hasTimeframe([]byte(slowRequestRule)))

	_, stats, err := NewSigmaPredicate(path)
	require.Error(t, err)
	require.Equal(t, 1, stats.SkippedComplex)
	require.Equal(t, 0, stats.SkippedInvalid)
}

func TestSigmaPredicateErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := NewSigmaPredicate(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)

	txt := writeRule(t, dir, "rule.txt", slowRequestRule)
	_, _, err = NewSigmaPredicate(txt)
	require.Error(t, err)

	bad := writeRule(t, dir, "bad.yml", "title: [unterminated")
	_, stats, err := NewSigmaPredicate(bad)
	require.Error(t, err)
	require.Equal(t, 1, stats.SkippedInvalid)
}

func TestFilterPredicateAndAllOf(t *testing.T) {
	fp, err := NewFilterPredicate([]string{"Depth>=2", "Reason!=Induced"})
	require.NoError(t, err)

	ev := &models.TraceEvent{Fields: map[string]interface{}{"Depth": int64(2), "Reason": "AllocSmall"}}
	require.True(t, fp.Match(ev))

	never := PredicateFunc(func(*models.TraceEvent) bool { return false })
	require.False(t, AllOf(fp, never).Match(ev))
	require.True(t, AllOf(nil, fp, Always{}).Match(ev))
	require.Nil(t, AllOf(nil))

	_, err = NewFilterPredicate([]string{"broken"})
	require.Error(t, err)
}
