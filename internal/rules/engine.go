package rules

import (
	"tracetrigger/internal/filter"
	"tracetrigger/pkg/models"
)

// Predicate is an extra condition a candidate event must satisfy before its
// trigger fires.
type Predicate interface {
	Match(event *models.TraceEvent) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(event *models.TraceEvent) bool

func (f PredicateFunc) Match(event *models.TraceEvent) bool { return f(event) }

// Always accepts every event.
type Always struct{}

func (Always) Match(*models.TraceEvent) bool { return true }

// AllOf matches when every non-nil predicate matches.
func AllOf(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return PredicateFunc(func(event *models.TraceEvent) bool {
		for _, p := range kept {
			if !p.Match(event) {
				return false
			}
		}
		return true
	})
}

// FilterPredicate applies a set of field filters to the firing event.
type FilterPredicate struct {
	eval *filter.Evaluator
}

// NewFilterPredicate parses each text as a field filter.
func NewFilterPredicate(texts []string) (*FilterPredicate, error) {
	filters := make([]filter.FieldFilter, 0, len(texts))
	for _, text := range texts {
		f, err := filter.Parse(text)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return &FilterPredicate{eval: filter.NewEvaluator(filters, nil)}, nil
}

func (p *FilterPredicate) Match(event *models.TraceEvent) bool {
	return p.eval.Succeeds(event)
}
