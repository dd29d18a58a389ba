package converter

import (
	"bytes"
	"math"

	"github.com/google/pprof/profile"
)

// unitNanos maps client timestamp units onto nanoseconds.
var unitNanos = map[string]int64{
	"nanoseconds":  1,
	"microseconds": 1_000,
	"milliseconds": 1_000_000,
	"seconds":      1_000_000_000,
}

// ConvertStacksToPprof converts collapsed stacks to pprof format.
// Parameters:
//   - stacks: records as produced by ParseCollapsed, root frame first
//   - unit: unit of the record values, recorded as the sample unit
//
// Returns nil if no stacks are provided
func ConvertStacksToPprof(stacks []Stack, unit string) *profile.Profile {
	if len(stacks) == 0 {
		return nil
	}

	var total int64
	for _, s := range stacks {
		total = addSaturating(total, s.Value)
	}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "wall", Unit: unit},
			{Type: "samples", Unit: "count"},
		},
		PeriodType: &profile.ValueType{
			Type: "wall",
			Unit: unit,
		},
		Period: 1,
	}
	if scale, ok := unitNanos[unit]; ok {
		prof.DurationNanos = mulSaturating(total, scale)
	}

	// One function and one location per distinct frame name
	functions := make(map[string]*profile.Function)
	locations := make(map[string]*profile.Location)
	nextFuncID := uint64(1)
	nextLocID := uint64(1)

	for _, stack := range stacks {
		sampleLocations := make([]*profile.Location, 0, len(stack.Frames))

		// pprof expects the leaf first
		for i := len(stack.Frames) - 1; i >= 0; i-- {
			name := stack.Frames[i]

			if _, exists := functions[name]; !exists {
				functions[name] = &profile.Function{
					ID:         nextFuncID,
					Name:       name,
					SystemName: name,
				}
				prof.Function = append(prof.Function, functions[name])
				nextFuncID++
			}

			if _, exists := locations[name]; !exists {
				locations[name] = &profile.Location{
					ID:   nextLocID,
					Line: []profile.Line{{Function: functions[name]}},
				}
				prof.Location = append(prof.Location, locations[name])
				nextLocID++
			}

			sampleLocations = append(sampleLocations, locations[name])
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: sampleLocations,
			Value:    []int64{stack.Value, 1},
		})
	}

	return prof
}

// PprofRenderer renders collapsed stacks as a gzipped pprof profile, which
// `go tool pprof -http`, Pyroscope and speedscope display as a flame graph.
type PprofRenderer struct {
	Unit string
}

func (r *PprofRenderer) Render(collapsed []byte) ([]byte, error) {
	stacks, err := ParseCollapsed(bytes.NewReader(collapsed))
	if err != nil {
		return nil, &RenderError{Format: FormatPprof, Err: err}
	}

	prof, err := r.Profile(stacks)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, &RenderError{Format: FormatPprof, Err: err}
	}
	return buf.Bytes(), nil
}

// Profile builds and validates the profile for stacks.
func (r *PprofRenderer) Profile(stacks []Stack) (*profile.Profile, error) {
	prof := ConvertStacksToPprof(stacks, r.unit())
	if prof == nil {
		return nil, &RenderError{Format: FormatPprof, Err: ErrNoStacks}
	}
	if err := prof.CheckValid(); err != nil {
		return nil, &RenderError{Format: FormatPprof, Err: err}
	}
	return prof, nil
}

func (r *PprofRenderer) ContentType() string { return "application/vnd.google.protobuf+gzip" }

func (r *PprofRenderer) unit() string {
	if r.Unit == "" {
		return "milliseconds"
	}
	return r.Unit
}

// addSaturating and mulSaturating work on non-negative values and stop
// at math.MaxInt64 instead of wrapping.
func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSaturating(a, b int64) int64 {
	if b != 0 && a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
