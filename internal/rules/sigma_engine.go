package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"
	"gopkg.in/yaml.v3"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// SigmaLoadStats counts rule files by outcome.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

// sigmaRule is one compiled rule. service, when set from the rule's
// logsource, limits it to events of that provider.
type sigmaRule struct {
	title   string
	service string
	eval    *sigmaevaluator.RuleEvaluator
}

// SigmaPredicate matches an event when any loaded Sigma rule matches it.
type SigmaPredicate struct {
	rules []sigmaRule
}

// NewSigmaPredicate loads Sigma rules from a .yml/.yaml file or a directory
// tree of them. Only rules decidable from a single event are kept; the rest
// are counted in stats and logged at debug level.
func NewSigmaPredicate(path string) (*SigmaPredicate, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	files, err := ruleFiles(path)
	if err != nil {
		return nil, stats, err
	}
	stats.TotalFiles = len(files)

	p := &SigmaPredicate{}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, stats, fmt.Errorf("read sigma rule %s: %w", file, err)
		}
		if hasTimeframe(raw) {
			logger.Debugf("Skipping sigma rule %s: timeframe", file)
			stats.SkippedComplex++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			logger.Debugf("Skipping sigma rule %s: %v", file, err)
			stats.SkippedInvalid++
			continue
		}
		if reason := singleEventReason(rule); reason != "" {
			logger.Debugf("Skipping sigma rule %s: %s", file, reason)
			stats.SkippedComplex++
			continue
		}
		p.rules = append(p.rules, sigmaRule{
			title:   strings.TrimSpace(rule.Title),
			service: strings.TrimSpace(rule.Logsource.Service),
			eval:    sigmaevaluator.ForRule(rule),
		})
		stats.Loaded++
	}
	if len(p.rules) == 0 {
		return nil, stats, fmt.Errorf("no usable sigma rules under %s", path)
	}
	return p, stats, nil
}

// Match reports whether any rule matches event.
func (p *SigmaPredicate) Match(event *models.TraceEvent) bool {
	_, ok := p.MatchedRule(event)
	return ok
}

// MatchedRule returns the title of the first matching rule.
func (p *SigmaPredicate) MatchedRule(event *models.TraceEvent) (string, bool) {
	if p == nil || event == nil {
		return "", false
	}
	var fields map[string]interface{}
	for _, rule := range p.rules {
		if rule.service != "" && !strings.EqualFold(rule.service, event.ProviderName) {
			continue
		}
		if fields == nil {
			fields = sigmaFields(event)
		}
		res, err := rule.eval.Matches(context.Background(), fields)
		if err == nil && res.Match {
			return rule.title, true
		}
	}
	return "", false
}

func ruleFiles(path string) ([]string, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}
	if !info.IsDir() && !isYAMLFile(root) {
		return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() && isYAMLFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// hasTimeframe reports whether the rule document sets detection.timeframe.
// It is checked before sigma.ParseRule, which rejects the scalar duration
// form ("1m") that rules are written with.
func hasTimeframe(raw []byte) bool {
	var doc struct {
		Detection struct {
			Timeframe interface{} `yaml:"timeframe"`
		} `yaml:"detection"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return doc.Detection.Timeframe != nil
}

// singleEventReason explains why rule cannot be decided from one event, or
// returns "" when it can.
func singleEventReason(rule sigma.Rule) string {
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return "aggregation"
		}
		if !plainSearch(cond.Search) {
			return "condition expression"
		}
	}
	for name, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return "keyword search " + name
		}
		if len(search.EventMatchers) == 0 {
			return "empty search " + name
		}
	}
	return ""
}

// plainSearch accepts identifiers combined with and/or/not. "1 of" and
// "all of" forms are rejected.
func plainSearch(expr sigma.SearchExpr) bool {
	var children []sigma.SearchExpr
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.Not:
		return plainSearch(e.Expr)
	case sigma.And:
		children = e
	case sigma.Or:
		children = e
	default:
		return false
	}
	for _, child := range children {
		if !plainSearch(child) {
			return false
		}
	}
	return true
}

// sigmaFields flattens payload fields and the event header into the map the
// evaluator reads. Header keys win over payload fields of the same name.
func sigmaFields(event *models.TraceEvent) map[string]interface{} {
	out := make(map[string]interface{}, len(event.Fields)+8)
	for k, v := range event.Fields {
		out[k] = models.FormatValue(v)
	}
	out["EventID"] = event.EventID
	out["EventName"] = event.FullName()
	out["ProviderName"] = event.ProviderName
	out["ProcessID"] = event.ProcessID
	out["ThreadID"] = event.ThreadID
	for k, v := range map[string]string{
		"ProcessName": event.ProcessName,
		"TaskName":    event.TaskName,
		"OpcodeName":  event.OpcodeName,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
