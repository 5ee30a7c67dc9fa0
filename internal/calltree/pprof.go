package calltree

import (
	"io"

	"github.com/google/pprof/profile"
)

// Profile renders the tree as a pprof profile with one sample per distinct
// leaf path and state. Samples carry a "state" label with the goroutine State.
func (t *Tree) Profile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "samples", Unit: "count"},
		Period:     1,
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[Frame]*profile.Location)
	location := func(f Frame) *profile.Location {
		if loc, ok := locations[f]; ok {
			return loc
		}
		fn, ok := functions[f.Function+"\x00"+f.File]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(p.Function) + 1),
				Name:       f.Function,
				SystemName: f.Function,
				Filename:   f.File,
			}
			functions[f.Function+"\x00"+f.File] = fn
			p.Function = append(p.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(len(p.Location) + 1),
			Line: []profile.Line{{Function: fn, Line: int64(f.Line)}},
		}
		locations[f] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	for _, s := range t.Stacks() {
		locs := make([]*profile.Location, 0, len(s.Frames))
		// pprof wants leaf first.
		for i := len(s.Frames) - 1; i >= 0; i-- {
			locs = append(locs, location(s.Frames[i]))
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{s.Count},
			Label:    map[string][]string{"state": {s.State}},
		})
	}
	return p
}

// WriteProfile writes the tree as a gzipped pprof protobuf.
func (t *Tree) WriteProfile(w io.Writer) error {
	return t.Profile().Write(w)
}
