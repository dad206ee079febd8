package rig

import "github.com/lumenrig/lumenrig/internal/param"

// asPercent extracts a [0,1] normalized percent from a Scalar or Angle
// parameter for transports (like SACNTransport) that need a raw DMX level
// rather than a typed value.
func asPercent(v param.Value) (float64, bool) {
	switch t := v.(type) {
	case *param.Scalar:
		return t.AsPercent(), true
	case *param.Angle:
		return t.AsPercent(), true
	default:
		return 0, false
	}
}
