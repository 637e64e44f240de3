// Package stats provides the compile-time-switched event counters the
// diag package aggregates. With Enabled false every increment compiles
// to a no-op and rendering returns "", so the fault and refill hot
// paths carry no atomic traffic in a normal build; flipping the
// constants produces a counting build for diagnosis.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Enabled switches event counting on. Timing additionally switches on
// cycle accounting, which is costlier per event than a bare increment.
const Enabled = false
const Timing = false

// Now returns a monotonic cycle-like timestamp for Cycles_t deltas. A
// real cycle counter needs per-architecture assembly; a nanosecond
// clock bounds the deltas closely enough for diagnostic counters.
func Now() uint64 {
	if !Timing {
		return 0
	}
	return uint64(time.Now().UnixNano())
}

// Counter_t counts events.
type Counter_t int64

// Inc adds one to the counter.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Cycles_t accumulates elapsed time between a Now() sample and the
// matching End call.
type Cycles_t int64

// End adds the cycles elapsed since start (a Now() sample).
func (c *Cycles_t) End(start uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Now()-start))
	}
}

// Render walks a struct of Counter_t/Cycles_t fields by reflection and
// prints each as "#Name: value", one per line. Returns "" when counting
// is compiled out, so callers can log the result unconditionally.
func Render(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	var b strings.Builder
	for i := 0; i < v.NumField(); i++ {
		var n int64
		switch f := v.Field(i).Interface().(type) {
		case Counter_t:
			n = int64(f)
		case Cycles_t:
			n = int64(f)
		default:
			continue
		}
		b.WriteString("\n\t#")
		b.WriteString(v.Type().Field(i).Name)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(n, 10))
	}
	b.WriteString("\n")
	return b.String()
}
