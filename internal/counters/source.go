package counters

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInstanceNotFound is returned when a counter instance does not exist,
// typically because the process or device behind it went away.
var ErrInstanceNotFound = errors.New("counter instance does not exist")

// TotalInstance aggregates every instance of a counter.
const TotalInstance = "_Total"

// ID names one counter instance.
type ID struct {
	Category string
	Counter  string
	Instance string
}

func (id ID) String() string {
	return id.Category + ":" + id.Counter + ":" + id.Instance
}

// Source reads numeric counters.
type Source interface {
	Exists(ctx context.Context, id ID) (bool, error)
	Value(ctx context.Context, id ID) (float64, error)
}

// Static is an in-memory counter source. Values can be fed one sample at a
// time with Push; Value consumes queued samples and then repeats the last one.
type Static struct {
	mu      sync.Mutex
	values  map[ID]float64
	pending map[ID][]float64
	errs    map[ID]error
}

// NewStatic creates an empty static source.
func NewStatic() *Static {
	return &Static{
		values:  make(map[ID]float64),
		pending: make(map[ID][]float64),
		errs:    make(map[ID]error),
	}
}

// Set fixes the current value of id.
func (s *Static) Set(id ID, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[id] = v
	delete(s.errs, id)
}

// Push queues samples returned by successive Value calls.
func (s *Static) Push(id ID, samples ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = append(s.pending[id], samples...)
}

// Fail makes reads of id return err until the next Set.
func (s *Static) Fail(id ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = err
}

// Remove deletes id.
func (s *Static) Remove(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, id)
	delete(s.pending, id)
}

// Exists reports whether id has a value.
func (s *Static) Exists(ctx context.Context, id ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[id]; err != nil {
		return false, err
	}
	_, ok := s.values[id]
	return ok || len(s.pending[id]) > 0, nil
}

// Value returns the next sample for id.
func (s *Static) Value(ctx context.Context, id ID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[id]; err != nil {
		return 0, err
	}
	if q := s.pending[id]; len(q) > 0 {
		v := q[0]
		s.pending[id] = q[1:]
		s.values[id] = v
		return v, nil
	}
	v, ok := s.values[id]
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrInstanceNotFound)
	}
	return v, nil
}
