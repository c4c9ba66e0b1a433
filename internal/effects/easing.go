package effects

import (
	"fmt"
	"strings"
)

type Easing int

const (
	Linear Easing = iota
	SmootherStepEasing
	InOutCubic
)

func ParseEasing(s string) (Easing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return Linear, nil
	case "smootherstep", "":
		return SmootherStepEasing, nil
	case "inoutcubic", "in-out-cubic":
		return InOutCubic, nil
	}
	return 0, fmt.Errorf("unknown easing %q (linear, smootherstep, inoutcubic)", s)
}

func (e Easing) String() string {
	switch e {
	case Linear:
		return "linear"
	case SmootherStepEasing:
		return "smootherstep"
	case InOutCubic:
		return "inoutcubic"
	}
	return fmt.Sprintf("easing(%d)", int(e))
}

func (e Easing) valid() bool {
	return e >= Linear && e <= InOutCubic
}

// Apply maps x in [0, 1] onto [0, 1]; every curve is monotonic non-decreasing.
func (e Easing) Apply(x float64) float64 {
	x = clamp01(x)
	switch e {
	case SmootherStepEasing:
		return SmootherStep(x)
	case InOutCubic:
		return easeInOutCubic(x)
	}
	return x
}

// SmootherStep is 6x^5 - 15x^4 + 10x^3.
func SmootherStep(x float64) float64 {
	return x * x * x * (x*(x*6-15) + 10)
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
