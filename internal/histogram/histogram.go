// Package histogram accumulates peak heights into fixed-width bins.
package histogram

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Histogram counts values in Bins equal-width bins over [Min, Max).
// Values below Min or at/above Max are tallied separately. Safe for
// concurrent use.
type Histogram struct {
	min, max uint64
	width    float64

	mu        sync.RWMutex
	counts    []uint64
	underflow uint64
	overflow  uint64
	total     uint64
}

// Snapshot is a point-in-time copy of a Histogram.
type Snapshot struct {
	Min       uint64   `json:"min"`
	Max       uint64   `json:"max"`
	Counts    []uint64 `json:"counts"`
	Underflow uint64   `json:"underflow"`
	Overflow  uint64   `json:"overflow"`
	Total     uint64   `json:"total"`
}

// New returns an empty histogram.
func New(min, max uint64, bins int) (*Histogram, error) {
	if bins <= 0 {
		return nil, errors.New("histogram needs at least one bin")
	}
	if max <= min {
		return nil, fmt.Errorf("histogram max (%d) must exceed min (%d)", max, min)
	}
	return &Histogram{
		min:    min,
		max:    max,
		width:  float64(max-min) / float64(bins),
		counts: make([]uint64, bins),
	}, nil
}

// Add counts every value.
func (h *Histogram) Add(values ...uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, v := range values {
		h.total++
		switch {
		case v < h.min:
			h.underflow++
		case v >= h.max:
			h.overflow++
		default:
			i := int(float64(v-h.min) / h.width)
			if i >= len(h.counts) {
				i = len(h.counts) - 1
			}
			h.counts[i]++
		}
	}
}

// Total returns the number of values added.
func (h *Histogram) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Snapshot copies the current state.
func (h *Histogram) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return Snapshot{
		Min:       h.min,
		Max:       h.max,
		Counts:    counts,
		Underflow: h.underflow,
		Overflow:  h.overflow,
		Total:     h.total,
	}
}

// BinLow returns the lower edge of bin i.
func (s Snapshot) BinLow(i int) float64 {
	return float64(s.Min) + float64(i)*float64(s.Max-s.Min)/float64(len(s.Counts))
}

// Render writes an ASCII bar chart. Adjacent bins are merged so that at
// most rows lines are printed; empty leading and trailing rows are
// skipped.
func (s Snapshot) Render(w io.Writer, rows, barWidth int) error {
	if len(s.Counts) == 0 {
		return nil
	}
	if rows <= 0 || rows > len(s.Counts) {
		rows = len(s.Counts)
	}
	per := (len(s.Counts) + rows - 1) / rows

	merged := make([]uint64, 0, rows)
	var peak uint64
	for i := 0; i < len(s.Counts); i += per {
		var sum uint64
		for j := i; j < i+per && j < len(s.Counts); j++ {
			sum += s.Counts[j]
		}
		merged = append(merged, sum)
		peak = max(peak, sum)
	}

	first, last := 0, len(merged)-1
	for first <= last && merged[first] == 0 {
		first++
	}
	for last >= first && merged[last] == 0 {
		last--
	}

	if _, err := fmt.Fprintf(w, "total=%d underflow=%d overflow=%d\n", s.Total, s.Underflow, s.Overflow); err != nil {
		return err
	}
	for r := first; r <= last; r++ {
		n := 0
		if peak > 0 {
			n = int(merged[r] * uint64(barWidth) / peak)
		}
		_, err := fmt.Fprintf(w, "%10.0f | %-*s %d\n", s.BinLow(r*per), barWidth, strings.Repeat("#", n), merged[r])
		if err != nil {
			return err
		}
	}
	return nil
}
