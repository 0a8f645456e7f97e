package params

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

// Tier is a coarse GPU memory class used to cap VRAM-hungry parameters.
type Tier int

const (
	TierCPU Tier = iota
	TierLow
	TierMid
	TierHigh
)

// VRAM thresholds between tiers. Both limits are inclusive.
const (
	LowTierLimit = 4 * types.GiB
	MidTierLimit = 8 * types.GiB
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierCPU:
		return "cpu"
	case TierLow:
		return "low"
	case TierMid:
		return "mid"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseTier parses a tier name as printed by String.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return TierCPU, nil
	case "low":
		return TierLow, nil
	case "mid", "medium":
		return TierMid, nil
	case "high":
		return TierHigh, nil
	default:
		return TierCPU, fmt.Errorf("%w: unknown tier %q", ErrInvalidParam, s)
	}
}

// TierForVRAM classifies total VRAM in bytes. Zero means no usable GPU.
func TierForVRAM(vram int64) Tier {
	switch {
	case vram <= 0:
		return TierCPU
	case vram <= LowTierLimit:
		return TierLow
	case vram <= MidTierLimit:
		return TierMid
	default:
		return TierHigh
	}
}

// Ceilings holds the highest exponent each slider may be moved to.
type Ceilings struct {
	MCExp      int
	ChunkExp   int
	TextureExp int
}

var ceilings = map[Tier]Ceilings{
	TierCPU:  {MCExp: 8, ChunkExp: 11, TextureExp: 10},
	TierLow:  {MCExp: 8, ChunkExp: 11, TextureExp: 11},
	TierMid:  {MCExp: 9, ChunkExp: 12, TextureExp: 12},
	TierHigh: {MCExp: 9, ChunkExp: 12, TextureExp: 12},
}

// CeilingsFor returns the slider ceilings of a tier.
func CeilingsFor(t Tier) Ceilings {
	c, ok := ceilings[t]
	if !ok {
		return ceilings[TierCPU]
	}
	return c
}

// MaxExp returns the ceiling for key under c.
func (c Ceilings) MaxExp(key SliderKey) int {
	switch key {
	case SliderMC:
		return c.MCExp
	case SliderChunk:
		return c.ChunkExp
	case SliderTexture:
		return c.TextureExp
	default:
		return specs[key].MaxExp
	}
}

// Limits are the launch-time caps of a tier. They are looser than the
// slider ceilings and catch values that did not come through the form,
// such as flags or saved preferences. Zero means uncapped.
type Limits struct {
	MCResolution      int
	ChunkSize         int
	TextureResolution int
}

var limits = map[Tier]Limits{
	TierCPU:  {MCResolution: 256, ChunkSize: 4096, TextureResolution: 1024},
	TierLow:  {MCResolution: 256, ChunkSize: 4096, TextureResolution: 2048},
	TierMid:  {MCResolution: 512, ChunkSize: 8192},
	TierHigh: {},
}

// LimitsFor returns the launch caps of a tier.
func LimitsFor(t Tier) Limits {
	l, ok := limits[t]
	if !ok {
		return limits[TierCPU]
	}
	return l
}

// Of returns the cap for key; zero means uncapped.
func (l Limits) Of(key SliderKey) int {
	switch key {
	case SliderMC:
		return l.MCResolution
	case SliderChunk:
		return l.ChunkSize
	case SliderTexture:
		return l.TextureResolution
	}
	return 0
}
