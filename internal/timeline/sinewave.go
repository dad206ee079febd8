package timeline

import (
	"encoding/json"
	"math"

	"github.com/lumenrig/lumenrig/internal/param"
)

// SineWave is a parametric oscillator per identifier: period, phase,
// amplitude and offset in milliseconds/radians/raw-units. It has no
// keyframes and no events, is always infinite-length, and participates in
// layer playback through the same Instance contract as a keyframed
// Timeline.
type SineWave struct {
	Period    float64 // milliseconds
	Phase     float64 // radians
	Amplitude float64
	Offset    float64
}

// SineTimeline is the SineWave specialization of Instance.
type SineTimeline struct {
	id     string
	curves map[string]SineWave
}

// NewSineTimeline constructs an empty SineTimeline.
func NewSineTimeline(id string) *SineTimeline {
	return &SineTimeline{id: id, curves: make(map[string]SineWave)}
}

func (s *SineTimeline) ID() string { return s.id }

// SetCurve assigns the oscillator parameters for identifier.
func (s *SineTimeline) SetCurve(identifier string, w SineWave) {
	s.curves[identifier] = w
}

func (s *SineTimeline) Identifiers() []string {
	out := make([]string, 0, len(s.curves))
	for id := range s.curves {
		out = append(out, id)
	}
	return out
}

func (s *SineTimeline) ValueAt(identifier string, t int64, _ Registry) (param.Value, bool) {
	w, ok := s.curves[identifier]
	if !ok || w.Period == 0 {
		return nil, false
	}
	val := w.Offset + w.Amplitude*math.Sin(2*math.Pi*float64(t)/w.Period+w.Phase)
	return param.NewScalar(val, val, -math.MaxFloat64, math.MaxFloat64), true
}

// SetCurrentState is a no-op: a SineWave has no UCS keyframes.
func (s *SineTimeline) SetCurrentState(map[string]param.Value) {}

// EventsInRange always returns nil: a SineWave schedules no events.
func (s *SineTimeline) EventsInRange(int64, int64) []Event { return nil }

// EndEvents always returns nil.
func (s *SineTimeline) EndEvents() []Event { return nil }

// Done is always false: a SineWave never finishes.
func (s *SineTimeline) Done(int64, Registry) bool { return false }

// Length is always -1 (unbounded).
func (s *SineTimeline) Length() int64 { return -1 }

// IsActiveAt is true whenever the identifier has a non-zero amplitude
// curve: a running oscillator is always meaningfully animating.
func (s *SineTimeline) IsActiveAt(identifier string, _ int64, _ param.Value) bool {
	w, ok := s.curves[identifier]
	return ok && w.Amplitude != 0
}

type sineCurveNode struct {
	Period    float64 `json:"period"`
	Phase     float64 `json:"phase"`
	Amplitude float64 `json:"amplitude"`
	Offset    float64 `json:"offset"`
}

type sineTimelineNode struct {
	Type  string                   `json:"type"`
	Waves map[string]sineCurveNode `json:"waves"`
}

// MarshalJSON implements the "sinewave" show-document timeline-node shape.
func (s *SineTimeline) MarshalJSON() ([]byte, error) {
	n := sineTimelineNode{Type: "sinewave", Waves: make(map[string]sineCurveNode, len(s.curves))}
	for id, w := range s.curves {
		n.Waves[id] = sineCurveNode{Period: w.Period, Phase: w.Phase, Amplitude: w.Amplitude, Offset: w.Offset}
	}
	return json.Marshal(n)
}

// UnmarshalJSON parses a "sinewave" show-document timeline-node.
func (s *SineTimeline) UnmarshalJSON(data []byte) error {
	var n sineTimelineNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	s.curves = make(map[string]SineWave, len(n.Waves))
	for id, w := range n.Waves {
		s.curves[id] = SineWave{Period: w.Period, Phase: w.Phase, Amplitude: w.Amplitude, Offset: w.Offset}
	}
	return nil
}
