// ABOUTME: Easing curves for volume ramps
// ABOUTME: Rising ramps ease out, falling ramps ease in
package fade

// Ease maps linear progress in [0,1] to curve progress in [0,1]
type Ease func(t float64) float64

// Linear is the identity curve
func Linear(t float64) float64 { return clamp01(t) }

// QuadOut decelerates towards the end
func QuadOut(t float64) float64 {
	t = clamp01(t)
	return 1 - (1-t)*(1-t)
}

// CubicIn accelerates from the start
func CubicIn(t float64) float64 {
	t = clamp01(t)
	return t * t * t
}

// EaseFor picks the curve for a ramp from one volume to another.
// Falling ramps front-load attenuation.
func EaseFor(from, to float64) Ease {
	if to < from {
		return CubicIn
	}
	return QuadOut
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
