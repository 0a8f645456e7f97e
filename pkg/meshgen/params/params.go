// Package params holds the generation parameters, their valid ranges and
// the heuristics that cap them for the available GPU memory.
package params

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidParam is wrapped by every validation failure.
var ErrInvalidParam = errors.New("invalid parameter")

// Foreground ratio bounds. The tool crops the subject to this share of the
// frame after removing the background.
const (
	MinForegroundRatio     = 0.5
	MaxForegroundRatio     = 1.0
	DefaultForegroundRatio = 0.85
)

// Safe mode caps. They trade quality for a predictable memory peak and do
// not have to be powers of two.
const (
	SafeMCResolution      = 96
	SafeChunkSize         = 128
	SafeTextureResolution = 512
)

// HighRiskScore is the LoadScore above which a run needs confirmation.
const HighRiskScore = 4.0

// Device selects where the tool runs inference.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Valid reports whether d is a known device.
func (d Device) Valid() bool {
	switch d {
	case DeviceAuto, DeviceCUDA, DeviceCPU:
		return true
	}
	return false
}

// ParseDevice parses a device name; the empty string means auto.
func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(s)))
	if d == "" {
		return DeviceAuto, nil
	}
	if !d.Valid() {
		return DeviceAuto, fmt.Errorf("%w: unknown device %q (want auto, cuda or cpu)", ErrInvalidParam, s)
	}
	return d, nil
}

// Params is the full parameter set of one generation run. The JSON names
// double as the preference file keys.
type Params struct {
	MCResolution      int     `json:"mc_resolution" yaml:"mc_resolution"`
	ChunkSize         int     `json:"chunk_size" yaml:"chunk_size"`
	TextureResolution int     `json:"texture_resolution" yaml:"texture_resolution"`
	BakeTexture       bool    `json:"bake_texture" yaml:"bake_texture"`
	Render            bool    `json:"render" yaml:"render"`
	SafeMode          bool    `json:"safe_mode" yaml:"safe_mode"`
	DeletePreview     bool    `json:"preview_delete" yaml:"preview_delete"`
	RemoveBackground  bool    `json:"remove_background" yaml:"remove_background"`
	ForegroundRatio   float64 `json:"foreground_ratio" yaml:"foreground_ratio"`
	Device            Device  `json:"device" yaml:"device"`
}

// Default returns the default parameter set.
func Default() Params {
	return Params{
		MCResolution:      1 << specs[SliderMC].DefaultExp,
		ChunkSize:         1 << specs[SliderChunk].DefaultExp,
		TextureResolution: 1 << specs[SliderTexture].DefaultExp,
		BakeTexture:       true,
		RemoveBackground:  true,
		ForegroundRatio:   DefaultForegroundRatio,
		Device:            DeviceAuto,
	}
}

func (p *Params) field(key SliderKey) *int {
	switch key {
	case SliderMC:
		return &p.MCResolution
	case SliderChunk:
		return &p.ChunkSize
	case SliderTexture:
		return &p.TextureResolution
	}
	panic(fmt.Sprintf("params: unknown slider key %d", key))
}

// Slider returns the slider for key positioned at the current value.
func (p Params) Slider(key SliderKey) Slider {
	s := NewSlider(key)
	s.SetValue(*p.field(key))
	return s
}

// SetSlider stores the slider's value into p.
func (p *Params) SetSlider(s Slider) {
	*p.field(s.Key) = s.Value()
}

// Validate reports every out-of-range value.
func (p Params) Validate() error {
	var errs []error
	for _, key := range SliderKeys {
		spec := specs[key]
		v := *p.field(key)
		if !IsPowerOfTwo(v) {
			errs = append(errs, fmt.Errorf("%w: %s must be a power of two, got %d", ErrInvalidParam, spec.Flag, v))
			continue
		}
		if lo, hi := 1<<spec.MinExp, 1<<spec.MaxExp; v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%w: %s must be in [%d, %d], got %d", ErrInvalidParam, spec.Flag, lo, hi, v))
		}
	}
	if r := p.ForegroundRatio; math.IsNaN(r) || r < MinForegroundRatio || r > MaxForegroundRatio {
		errs = append(errs, fmt.Errorf("%w: foreground-ratio must be in [%g, %g], got %g", ErrInvalidParam, MinForegroundRatio, MaxForegroundRatio, r))
	}
	if !p.Device.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown device %q", ErrInvalidParam, p.Device))
	}
	return errors.Join(errs...)
}

// Normalize brings every value back into range. Values that cannot be
// interpreted fall back to their defaults.
func (p *Params) Normalize() {
	for _, key := range SliderKeys {
		v := p.field(key)
		if *v <= 0 {
			*v = 1 << specs[key].DefaultExp
			continue
		}
		s := NewSlider(key)
		s.SetValue(*v)
		*v = s.Value()
	}
	p.ForegroundRatio = ClampForegroundRatio(p.ForegroundRatio)
	if !p.Device.Valid() {
		p.Device = DeviceAuto
	}
}

// ClampForegroundRatio clamps r into range. NaN and zero map to the default.
func ClampForegroundRatio(r float64) float64 {
	if math.IsNaN(r) || r == 0 {
		return DefaultForegroundRatio
	}
	return math.Min(math.Max(r, MinForegroundRatio), MaxForegroundRatio)
}

// LoadScore estimates the GPU load of a parameter combination relative to
// a known-safe baseline of mc 128, chunk 512 and texture 512. Textures below
// the baseline do not lower the score.
func LoadScore(mc, chunk, texture int) float64 {
	return float64(mc) / 128 *
		(float64(max(chunk, 1)) / 512) *
		(float64(max(texture, 512)) / 512)
}

// Adjustment records one change made to the requested parameters.
type Adjustment struct {
	Field string
	From  string
	To    string
}

func (a Adjustment) String() string {
	return fmt.Sprintf("%s: %s -> %s", a.Field, a.From, a.To)
}

// ApplySafeMode returns a copy of p with the safe mode caps applied and
// rendering disabled. Without SafeMode it returns p unchanged.
func (p Params) ApplySafeMode() (Params, []Adjustment) {
	if !p.SafeMode {
		return p, nil
	}
	out := p
	var adj []Adjustment
	capInt := func(name string, v *int, limit int) {
		if *v > limit {
			adj = append(adj, Adjustment{Field: name, From: strconv.Itoa(*v), To: strconv.Itoa(limit)})
			*v = limit
		}
	}
	capInt(specs[SliderMC].Flag, &out.MCResolution, SafeMCResolution)
	capInt(specs[SliderChunk].Flag, &out.ChunkSize, SafeChunkSize)
	capInt(specs[SliderTexture].Flag, &out.TextureResolution, SafeTextureResolution)
	if out.Render {
		out.Render = false
		adj = append(adj, Adjustment{Field: "render", From: "true", To: "false"})
	}
	return out, adj
}

// ClampToTier returns a copy of p within the launch limits of t together
// with the changes that were made. Clamping is idempotent.
func (p Params) ClampToTier(t Tier) (Params, []Adjustment) {
	out := p
	var adj []Adjustment
	l := LimitsFor(t)
	for _, key := range SliderKeys {
		limit := l.Of(key)
		v := out.field(key)
		if limit > 0 && *v > limit {
			adj = append(adj, Adjustment{Field: specs[key].Flag, From: strconv.Itoa(*v), To: strconv.Itoa(limit)})
			*v = limit
		}
	}
	return out, adj
}

// Plan is what a run will actually use, and why it differs from what was
// asked for.
type Plan struct {
	Requested Params
	Params    Params
	Tier      Tier

	// SafeMode lists the changes made by safe mode; the user asked for
	// them and they need no confirmation.
	SafeMode []Adjustment

	// Clamped lists the changes made for the tier.
	Clamped []Adjustment

	LoadScore float64
}

// Plan validates p, applies safe mode and then the tier limits, and scores
// the result.
func (p Params) Plan(t Tier) (Plan, error) {
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	safe, safeAdj := p.ApplySafeMode()
	clamped, clampAdj := safe.ClampToTier(t)
	return Plan{
		Requested: p,
		Params:    clamped,
		Tier:      t,
		SafeMode:  safeAdj,
		Clamped:   clampAdj,
		LoadScore: LoadScore(clamped.MCResolution, clamped.ChunkSize, clamped.TextureResolution),
	}, nil
}

// HighRisk reports a load score above HighRiskScore.
func (pl Plan) HighRisk() bool {
	return pl.LoadScore > HighRiskScore
}

// NeedsConfirmation reports whether the user should approve the run
// before it starts: the tier lowered a value or the load is high.
func (pl Plan) NeedsConfirmation() bool {
	return len(pl.Clamped) > 0 || pl.HighRisk()
}

// Adjustments returns every change, safe mode first.
func (pl Plan) Adjustments() []Adjustment {
	return append(append([]Adjustment(nil), pl.SafeMode...), pl.Clamped...)
}

// Warnings renders the reasons for confirmation as sentences.
func (pl Plan) Warnings() []string {
	var out []string
	if len(pl.Clamped) > 0 {
		parts := make([]string, len(pl.Clamped))
		for i, a := range pl.Clamped {
			parts[i] = a.String()
		}
		out = append(out, fmt.Sprintf("lowered for the %s VRAM tier: %s", pl.Tier, strings.Join(parts, ", ")))
	}
	if pl.HighRisk() {
		out = append(out, fmt.Sprintf(
			"estimated GPU load %.1fx the safe baseline (mc-resolution %d, chunk-size %d, texture-resolution %d) may stall or crash the system",
			pl.LoadScore, pl.Params.MCResolution, pl.Params.ChunkSize, pl.Params.TextureResolution))
	}
	return out
}
