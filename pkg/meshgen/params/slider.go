package params

import "math"

// SliderKey identifies one of the power-of-two parameters.
type SliderKey int

const (
	SliderMC SliderKey = iota
	SliderChunk
	SliderTexture
)

// SliderKeys lists the sliders in display order.
var SliderKeys = []SliderKey{SliderMC, SliderChunk, SliderTexture}

// Spec is the static description of a power-of-two slider.
type Spec struct {
	Name       string
	Flag       string
	MinExp     int
	MaxExp     int
	DefaultExp int
}

// The chunk default sits at the bottom of its range: small chunks are slow
// but never exhaust memory on the first run.
var specs = map[SliderKey]Spec{
	SliderMC:      {Name: "MC resolution", Flag: "mc-resolution", MinExp: 6, MaxExp: 9, DefaultExp: 9},
	SliderChunk:   {Name: "Chunk size", Flag: "chunk-size", MinExp: 4, MaxExp: 13, DefaultExp: 4},
	SliderTexture: {Name: "Texture resolution", Flag: "texture-resolution", MinExp: 8, MaxExp: 12, DefaultExp: 10},
}

// SpecFor returns the spec of a slider.
func SpecFor(key SliderKey) Spec {
	return specs[key]
}

// Slider maps a UI position onto a power of two. Position 0 is 2^MinExp and
// the last position is 2^MaxExp.
type Slider struct {
	Key SliderKey
	Spec
	Exp int
}

// NewSlider returns the slider for key at its default position.
func NewSlider(key SliderKey) Slider {
	spec := specs[key]
	return Slider{Key: key, Spec: spec, Exp: spec.DefaultExp}
}

// Value returns 2^Exp.
func (s Slider) Value() int {
	return 1 << s.Exp
}

// Position returns the zero-based UI position.
func (s Slider) Position() int {
	return s.Exp - s.MinExp
}

// Positions returns the number of selectable positions.
func (s Slider) Positions() int {
	return s.MaxExp - s.MinExp + 1
}

// SetPosition moves to position p, saturating at both ends.
func (s *Slider) SetPosition(p int) {
	s.SetExp(s.MinExp + p)
}

// SetExp sets the exponent, clamped to the slider range.
func (s *Slider) SetExp(exp int) {
	s.Exp = min(max(exp, s.MinExp), s.MaxExp)
}

// Increment moves one position up and reports whether the value changed.
func (s *Slider) Increment() bool {
	before := s.Exp
	s.SetExp(s.Exp + 1)
	return s.Exp != before
}

// Decrement moves one position down and reports whether the value changed.
func (s *Slider) Decrement() bool {
	before := s.Exp
	s.SetExp(s.Exp - 1)
	return s.Exp != before
}

// SetValue selects the power of two nearest to v (in log2 space) within range.
func (s *Slider) SetValue(v int) {
	s.SetExp(ExpFor(v))
}

// ExpFor returns round(log2(v)); values below 1 map to 0.
func ExpFor(v int) int {
	if v < 1 {
		return 0
	}
	return int(math.Round(math.Log2(float64(v))))
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}
