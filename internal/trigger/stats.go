package trigger

import (
	"math"
	"sync/atomic"
)

func floatBits(v float64) uint64 { return math.Float64bits(v) }

func storeFloat(a *atomic.Uint64, v float64) { a.Store(floatBits(v)) }

func loadFloat(a *atomic.Uint64) float64 { return math.Float64frombits(a.Load()) }

// pairStats accumulates completed start/stop durations. Writes come from the
// consuming goroutine only; reads may come from anywhere.
type pairStats struct {
	count atomic.Int64
	max   atomic.Uint64
	total atomic.Uint64
	last  atomic.Uint64
}

func (p *pairStats) add(durationMSec float64) {
	p.count.Add(1)
	storeFloat(&p.last, durationMSec)
	storeFloat(&p.total, loadFloat(&p.total)+durationMSec)
	if durationMSec > loadFloat(&p.max) {
		storeFloat(&p.max, durationMSec)
	}
}

func (p *pairStats) mean() float64 {
	n := p.count.Load()
	if n == 0 {
		return 0
	}
	return loadFloat(&p.total) / float64(n)
}
