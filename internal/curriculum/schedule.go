package curriculum

import (
	"math"
	"unicode/utf8"

	"github.com/kalambet/ethika/internal/resource"
)

// ScheduleOptions bounds the time given to a single resource. A zero
// MaxBlockMinutes disables the cap.
type ScheduleOptions struct {
	MinBlockMinutes float64
	MaxBlockMinutes float64
}

// DefaultScheduleOptions returns a 10 minute floor and a 30 minute cap.
func DefaultScheduleOptions() ScheduleOptions {
	return ScheduleOptions{MinBlockMinutes: 10, MaxBlockMinutes: 30}
}

// BuildSchedule gives every resource a block proportional to its content
// length, clamped to the options' bounds. When the clamped blocks overrun
// hours*60 they are all scaled down by the same factor; no resource is ever
// dropped. Blocks follow input order with sequential offsets.
func BuildSchedule(resources []resource.Resource, hours float64, opts ScheduleOptions) []ScheduleBlock {
	budget := hours * 60
	if len(resources) == 0 || budget <= 0 {
		return []ScheduleBlock{}
	}

	weights := make([]float64, len(resources))
	var total float64
	for i, r := range resources {
		w := float64(utf8.RuneCountInString(r.Content))
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	durations := make([]float64, len(resources))
	var sum float64
	for i, w := range weights {
		d := budget * w / total
		if opts.MinBlockMinutes > 0 && d < opts.MinBlockMinutes {
			d = opts.MinBlockMinutes
		}
		if opts.MaxBlockMinutes > 0 && d > opts.MaxBlockMinutes {
			d = opts.MaxBlockMinutes
		}
		durations[i] = d
		sum += d
	}
	if sum > budget {
		scale := budget / sum
		for i := range durations {
			durations[i] *= scale
		}
	}

	blocks := make([]ScheduleBlock, len(resources))
	var offset float64
	for i, r := range resources {
		d := floorMinutes(durations[i])
		blocks[i] = ScheduleBlock{
			StartOffsetMinutes: offset,
			DurationMinutes:    d,
			ResourceID:         r.ID,
			Title:              r.Title,
		}
		offset = math.Round((offset+d)*100) / 100
	}
	return blocks
}

// floorMinutes truncates to hundredths of a minute so rounding never pushes
// the total past the budget.
func floorMinutes(m float64) float64 {
	return math.Floor(m*100) / 100
}
