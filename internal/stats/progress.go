package stats

import "sync"

// Progress accumulates transferred bytes against a known maximum. Every
// update is a read-modify-write under one mutex, so concurrent Adds never
// lose increments and the value never decreases.
type Progress struct {
	mu    sync.Mutex
	done  int64
	total int64
}

// Add records n more bytes and returns the new running total. Negative n is
// ignored.
func (p *Progress) Add(n int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > 0 {
		p.done += n
	}
	return p.done
}

// SetTotal records the expected maximum.
func (p *Progress) SetTotal(total int64) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
}

// Value returns the bytes recorded so far and the expected maximum.
func (p *Progress) Value() (done, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total
}

// Fraction returns done/total clamped to [0,1]. An unknown or zero total
// reports 1 once anything was recorded, 0 otherwise.
func (p *Progress) Fraction() float64 {
	done, total := p.Value()
	if total <= 0 {
		if done > 0 {
			return 1
		}
		return 0
	}
	return min(float64(done)/float64(total), 1)
}
