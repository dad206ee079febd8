package cue

import (
	"fmt"
	"sort"
)

// TimelineDeleter is the subset of Playback's timeline registry CueList
// needs to optionally cascade a cue deletion into the underlying timeline.
type TimelineDeleter interface {
	DeleteTimeline(id string)
}

// CueList is an ordered mapping from real-valued cue number to timeline
// id.
type CueList struct {
	name    string
	numbers []float64
	byNum   map[float64]string
}

// NewCueList constructs an empty, named CueList.
func NewCueList(name string) *CueList {
	return &CueList{name: name, byNum: make(map[float64]string)}
}

func (cl *CueList) Name() string { return cl.name }

// Len reports the number of cues stored.
func (cl *CueList) Len() int { return len(cl.numbers) }

// Store records timelineID under num. It refuses to overwrite an existing
// number unless overwrite is true.
func (cl *CueList) Store(num float64, timelineID string, overwrite bool) error {
	if _, exists := cl.byNum[num]; exists && !overwrite {
		return fmt.Errorf("cue: number %v already stored (overwrite not set)", num)
	}
	if _, exists := cl.byNum[num]; !exists {
		cl.numbers = append(cl.numbers, num)
		sort.Float64s(cl.numbers)
	}
	cl.byNum[num] = timelineID
	return nil
}

// Lookup returns the timeline id stored at num.
func (cl *CueList) Lookup(num float64) (string, bool) {
	id, ok := cl.byNum[num]
	return id, ok
}

// Index returns the i-th cue number in ascending order.
func (cl *CueList) Index(i int) (float64, string, bool) {
	if i < 0 || i >= len(cl.numbers) {
		return 0, "", false
	}
	num := cl.numbers[i]
	return num, cl.byNum[num], true
}

// Next returns the first stored number strictly greater than num.
func (cl *CueList) Next(num float64) (float64, string, bool) {
	i := sort.SearchFloat64s(cl.numbers, num)
	for i < len(cl.numbers) && cl.numbers[i] <= num {
		i++
	}
	if i >= len(cl.numbers) {
		return 0, "", false
	}
	return cl.numbers[i], cl.byNum[cl.numbers[i]], true
}

// Prev returns the last stored number strictly less than num.
func (cl *CueList) Prev(num float64) (float64, string, bool) {
	i := sort.SearchFloat64s(cl.numbers, num) - 1
	if i < 0 || i >= len(cl.numbers) {
		return 0, "", false
	}
	return cl.numbers[i], cl.byNum[cl.numbers[i]], true
}

// Delete removes num from the list. If alsoDeleteTimeline and reg is
// non-nil, the underlying timeline is also removed from the registry.
func (cl *CueList) Delete(num float64, alsoDeleteTimeline bool, reg TimelineDeleter) {
	id, ok := cl.byNum[num]
	if !ok {
		return
	}
	delete(cl.byNum, num)
	for i, n := range cl.numbers {
		if n == num {
			cl.numbers = append(cl.numbers[:i], cl.numbers[i+1:]...)
			break
		}
	}
	if alsoDeleteTimeline && reg != nil {
		reg.DeleteTimeline(id)
	}
}

// Numbers returns every stored cue number in ascending order.
func (cl *CueList) Numbers() []float64 {
	out := make([]float64, len(cl.numbers))
	copy(out, cl.numbers)
	return out
}
