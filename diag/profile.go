package diag

import (
	"fmt"

	"github.com/google/pprof/profile"

	"nucleus/defs"
	"nucleus/res"
)

// profDevice tags every sample ArenaProfile emits, so a consumer
// reading the profile alongside other device-tagged diagnostics (see
// StatDevice) can tell which subsystem produced it.
var profDevice = defs.Mkdev(0, defs.D_PROF)

// ArenaProfile renders an arena's occupancy as a pprof heap-profile-
// style Profile: one sample per span, valued in used bytes, labeled
// with the span's base address. Tooling that already consumes heap
// profiles can graph allocator occupancy unchanged.
func ArenaProfile(a *res.Arena) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "inuse_space", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	for _, s := range a.Snapshot() {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{int64(s.UsedBytes)},
			Label: map[string][]string{
				"span": {fmt.Sprintf("%#x", s.Base)},
			},
			NumLabel: map[string][]int64{
				"device": {int64(profDevice)},
				"size":   {int64(s.Size)},
			},
		})
	}
	return p
}
