package model

import (
	"fmt"
	"strconv"
)

// CSVHeader lists the event fields in wire and file order.
var CSVHeader = []string{"timestamp", "peak_height", "cycle", "speed"}

// FieldCount is the number of fields carried by one encoded event.
const FieldCount = 4

// MeasuredEvent is one pulse detected by the instrument's filter.
type MeasuredEvent struct {
	Timestamp  uint64 // Instrument clock ticks
	PeakHeight uint64 // Pulse amplitude
	Cycle      uint64 // Instrument cycle counter
	Speed      uint64 // Drive speed at detection time
}

// Fields returns the event's values in wire order.
func (e MeasuredEvent) Fields() [FieldCount]uint64 {
	return [FieldCount]uint64{e.Timestamp, e.PeakHeight, e.Cycle, e.Speed}
}

// EventFromFields builds an event from values in wire order.
func EventFromFields(f [FieldCount]uint64) MeasuredEvent {
	return MeasuredEvent{
		Timestamp:  f[0],
		PeakHeight: f[1],
		Cycle:      f[2],
		Speed:      f[3],
	}
}

// Record renders the event as decimal CSV fields.
func (e MeasuredEvent) Record() []string {
	return []string{
		strconv.FormatUint(e.Timestamp, 10),
		strconv.FormatUint(e.PeakHeight, 10),
		strconv.FormatUint(e.Cycle, 10),
		strconv.FormatUint(e.Speed, 10),
	}
}

func (e MeasuredEvent) String() string {
	return fmt.Sprintf("ts: %d, ph: %d, cycle: %d, speed: %d",
		e.Timestamp, e.PeakHeight, e.Cycle, e.Speed)
}

// PeakHeights extracts the amplitudes of a batch, the only field the
// histogram renderers need.
func PeakHeights(events []MeasuredEvent) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.PeakHeight
	}
	return out
}

// FilterParams are the trapezoidal filter settings sent to the instrument
// when a run starts.
type FilterParams struct {
	K             int `yaml:"k"`              // Flank steepness
	L             int `yaml:"l"`              // Plateau duration
	M             int `yaml:"m"`              // Decay-time multiplication factor
	PeakThreshold int `yaml:"peak_threshold"` // Minimum peak height not considered noise
	DeadTime      int `yaml:"dead_time"`      // Accumulation window for picking the highest peak
}

func (p FilterParams) String() string {
	return fmt.Sprintf("k=%d l=%d m=%d pthresh=%d t_dead=%d",
		p.K, p.L, p.M, p.PeakThreshold, p.DeadTime)
}
