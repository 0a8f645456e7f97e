package params

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

func TestSliderPositions(t *testing.T) {
	s := NewSlider(SliderMC)
	if s.Value() != 512 {
		t.Fatalf("default mc resolution = %d, want 512", s.Value())
	}
	if s.Positions() != 4 {
		t.Errorf("Positions() = %d, want 4", s.Positions())
	}
	if s.Position() != 3 {
		t.Errorf("Position() = %d, want 3", s.Position())
	}

	s.SetPosition(0)
	if s.Value() != 64 {
		t.Errorf("position 0 = %d, want 64", s.Value())
	}
	s.SetPosition(-5)
	if s.Value() != 64 {
		t.Errorf("position -5 = %d, want 64", s.Value())
	}
	s.SetPosition(99)
	if s.Value() != 512 {
		t.Errorf("position 99 = %d, want 512", s.Value())
	}
}

func TestSliderIncrementSaturates(t *testing.T) {
	s := NewSlider(SliderTexture)
	steps := 0
	for s.Increment() {
		steps++
	}
	if s.Value() != 4096 {
		t.Errorf("max texture = %d, want 4096", s.Value())
	}
	if steps != 2 {
		t.Errorf("increments from default = %d, want 2", steps)
	}
	if s.Increment() {
		t.Error("Increment() at max reported a change")
	}

	for s.Decrement() {
	}
	if s.Value() != 256 {
		t.Errorf("min texture = %d, want 256", s.Value())
	}
}

func TestSliderSetValue(t *testing.T) {
	tests := []struct {
		name string
		key  SliderKey
		in   int
		want int
	}{
		{"exact", SliderMC, 256, 256},
		{"rounds down", SliderMC, 150, 128},
		{"rounds up", SliderMC, 200, 256},
		{"below range", SliderMC, 3, 64},
		{"above range", SliderMC, 1 << 20, 512},
		{"zero", SliderChunk, 0, 16},
		{"chunk", SliderChunk, 5000, 4096},
		{"safe mode value", SliderMC, 96, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSlider(tt.key)
			s.SetValue(tt.in)
			if s.Value() != tt.want {
				t.Errorf("SetValue(%d) = %d, want %d", tt.in, s.Value(), tt.want)
			}
			if !IsPowerOfTwo(s.Value()) {
				t.Errorf("value %d is not a power of two", s.Value())
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if p.MCResolution != 512 || p.ChunkSize != 16 || p.TextureResolution != 1024 {
		t.Errorf("unexpected slider defaults: %+v", p)
	}
	if !p.BakeTexture || p.Render || p.SafeMode || p.DeletePreview || !p.RemoveBackground {
		t.Errorf("unexpected switch defaults: %+v", p)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	p := Default()
	p.MCResolution = 300
	p.ChunkSize = 1 << 20
	p.ForegroundRatio = 2
	p.Device = "tpu"

	err := p.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !errors.Is(err, ErrInvalidParam) {
		t.Errorf("error does not wrap ErrInvalidParam: %v", err)
	}
	for _, want := range []string{"mc-resolution", "chunk-size", "foreground-ratio", "device"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	p := Params{
		MCResolution:      5000,
		ChunkSize:         -1,
		TextureResolution: 1000,
		ForegroundRatio:   math.NaN(),
		Device:            "metal",
	}
	p.Normalize()

	if err := p.Validate(); err != nil {
		t.Fatalf("normalized params invalid: %v", err)
	}
	if p.MCResolution != 512 {
		t.Errorf("MCResolution = %d, want 512", p.MCResolution)
	}
	if p.ChunkSize != 16 {
		t.Errorf("ChunkSize = %d, want default 16", p.ChunkSize)
	}
	if p.TextureResolution != 1024 {
		t.Errorf("TextureResolution = %d, want 1024", p.TextureResolution)
	}
	if p.ForegroundRatio != DefaultForegroundRatio || p.Device != DeviceAuto {
		t.Errorf("linear fields not normalized: %+v", p)
	}
}

func TestTierForVRAM(t *testing.T) {
	tests := []struct {
		vram int64
		want Tier
	}{
		{0, TierCPU},
		{-1, TierCPU},
		{2 * types.GiB, TierLow},
		{4 * types.GiB, TierLow},
		{4*types.GiB + 1, TierMid},
		{8 * types.GiB, TierMid},
		{8*types.GiB + 1, TierHigh},
		{24 * types.GiB, TierHigh},
	}
	for _, tt := range tests {
		if got := TierForVRAM(tt.vram); got != tt.want {
			t.Errorf("TierForVRAM(%d) = %v, want %v", tt.vram, got, tt.want)
		}
	}
}

func TestParseTier(t *testing.T) {
	for _, tier := range []Tier{TierCPU, TierLow, TierMid, TierHigh} {
		got, err := ParseTier(tier.String())
		if err != nil || got != tier {
			t.Errorf("ParseTier(%q) = %v, %v", tier.String(), got, err)
		}
	}
	if _, err := ParseTier("huge"); err == nil {
		t.Error("ParseTier(huge) = nil error")
	}
}

func TestCeilingsFor(t *testing.T) {
	tests := []struct {
		tier               Tier
		mc, chunk, texture int
	}{
		{TierCPU, 256, 2048, 1024},
		{TierLow, 256, 2048, 2048},
		{TierMid, 512, 4096, 4096},
		{TierHigh, 512, 4096, 4096},
	}
	for _, tt := range tests {
		c := CeilingsFor(tt.tier)
		got := [3]int{1 << c.MaxExp(SliderMC), 1 << c.MaxExp(SliderChunk), 1 << c.MaxExp(SliderTexture)}
		if want := [3]int{tt.mc, tt.chunk, tt.texture}; got != want {
			t.Errorf("%s ceilings = %v, want %v", tt.tier, got, want)
		}
	}
}

func TestClampToTier(t *testing.T) {
	maxed := Default()
	maxed.MCResolution = 512
	maxed.ChunkSize = 8192
	maxed.TextureResolution = 4096

	tests := []struct {
		tier               Tier
		mc, chunk, texture int
		adjustments        int
	}{
		{TierCPU, 256, 4096, 1024, 3},
		{TierLow, 256, 4096, 2048, 3},
		{TierMid, 512, 8192, 4096, 0},
		{TierHigh, 512, 8192, 4096, 0},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			got, adj := maxed.ClampToTier(tt.tier)
			if got.MCResolution != tt.mc || got.ChunkSize != tt.chunk || got.TextureResolution != tt.texture {
				t.Errorf("clamped to %d/%d/%d, want %d/%d/%d",
					got.MCResolution, got.ChunkSize, got.TextureResolution, tt.mc, tt.chunk, tt.texture)
			}
			if len(adj) != tt.adjustments {
				t.Errorf("adjustments = %v, want %d", adj, tt.adjustments)
			}

			again, adj := got.ClampToTier(tt.tier)
			if len(adj) != 0 || again != got {
				t.Errorf("clamp is not idempotent: %v", adj)
			}
		})
	}
}

func TestClampToTierReportsChanges(t *testing.T) {
	p := Default()
	p.ChunkSize = 8192
	_, adj := p.ClampToTier(TierCPU)
	fields := map[string]Adjustment{}
	for _, a := range adj {
		fields[a.Field] = a
	}
	if a := fields["chunk-size"]; a.From != "8192" || a.To != "4096" {
		t.Errorf("chunk-size adjustment = %+v", a)
	}
	if a := fields["mc-resolution"]; a.From != "512" || a.To != "256" {
		t.Errorf("mc-resolution adjustment = %+v", a)
	}
	if _, ok := fields["texture-resolution"]; ok {
		t.Error("texture at 1024 should fit the cpu tier")
	}
}

func TestApplySafeMode(t *testing.T) {
	p := Default()
	p.ChunkSize = 1024
	p.Render = true

	same, adj := p.ApplySafeMode()
	if same != p || adj != nil {
		t.Fatalf("safe mode applied while off: %+v %v", same, adj)
	}

	p.SafeMode = true
	got, adj := p.ApplySafeMode()
	if got.MCResolution != 96 || got.ChunkSize != 128 || got.TextureResolution != 512 || got.Render {
		t.Errorf("safe mode result = %+v", got)
	}
	if len(adj) != 4 {
		t.Errorf("adjustments = %v, want 4", adj)
	}

	p.MCResolution, p.ChunkSize, p.Render = 64, 16, false
	got, adj = p.ApplySafeMode()
	if got.MCResolution != 64 || got.ChunkSize != 16 || len(adj) != 1 {
		t.Errorf("safe mode raised values or reported extra changes: %+v %v", got, adj)
	}
}

func TestLoadScore(t *testing.T) {
	tests := []struct {
		name               string
		mc, chunk, texture int
		want               float64
	}{
		{"baseline", 128, 512, 512, 1},
		{"small texture counts as baseline", 128, 512, 256, 1},
		{"defaults", 512, 16, 1024, 0.25},
		{"heavy", 512, 8192, 4096, 512},
		{"zero chunk", 128, 0, 512, 1.0 / 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoadScore(tt.mc, tt.chunk, tt.texture); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LoadScore() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	t.Run("defaults need no confirmation", func(t *testing.T) {
		pl, err := Default().Plan(TierHigh)
		if err != nil {
			t.Fatal(err)
		}
		if pl.NeedsConfirmation() || len(pl.Adjustments()) != 0 || pl.Warnings() != nil {
			t.Errorf("unexpected plan %+v", pl)
		}
	})

	t.Run("clamped values need confirmation", func(t *testing.T) {
		p := Default()
		p.TextureResolution = 4096
		pl, err := p.Plan(TierLow)
		if err != nil {
			t.Fatal(err)
		}
		if !pl.NeedsConfirmation() || pl.HighRisk() {
			t.Errorf("NeedsConfirmation=%t HighRisk=%t", pl.NeedsConfirmation(), pl.HighRisk())
		}
		if pl.Params.MCResolution != 256 || pl.Requested.MCResolution != 512 {
			t.Errorf("plan params %+v", pl.Params)
		}
		if w := pl.Warnings(); len(w) != 1 || !strings.Contains(w[0], "low VRAM tier") {
			t.Errorf("Warnings() = %v", w)
		}
	})

	t.Run("high load needs confirmation", func(t *testing.T) {
		p := Default()
		p.ChunkSize = 2048
		pl, err := p.Plan(TierHigh)
		if err != nil {
			t.Fatal(err)
		}
		if !pl.HighRisk() || !pl.NeedsConfirmation() || len(pl.Clamped) != 0 {
			t.Errorf("score %g, plan %+v", pl.LoadScore, pl)
		}
		if w := pl.Warnings(); len(w) != 1 || !strings.Contains(w[0], "chunk-size 2048") {
			t.Errorf("Warnings() = %v", w)
		}
	})

	t.Run("safe mode runs first and needs no confirmation", func(t *testing.T) {
		p := Default()
		p.SafeMode = true
		p.ChunkSize = 8192
		pl, err := p.Plan(TierCPU)
		if err != nil {
			t.Fatal(err)
		}
		if pl.Params.MCResolution != 96 || pl.Params.ChunkSize != 128 || pl.Params.TextureResolution != 512 {
			t.Errorf("plan params %+v", pl.Params)
		}
		if len(pl.Clamped) != 0 || pl.NeedsConfirmation() {
			t.Errorf("safe mode values were clamped again: %v", pl.Clamped)
		}
		if len(pl.SafeMode) != 3 {
			t.Errorf("SafeMode = %v", pl.SafeMode)
		}
	})

	t.Run("invalid request", func(t *testing.T) {
		p := Default()
		p.ChunkSize = 100
		if _, err := p.Plan(TierHigh); !errors.Is(err, ErrInvalidParam) {
			t.Errorf("Plan() error = %v", err)
		}
	})
}

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("")
	if err != nil || d != DeviceAuto {
		t.Errorf("ParseDevice(\"\") = %q, %v", d, err)
	}
	d, err = ParseDevice("CUDA")
	if err != nil || d != DeviceCUDA {
		t.Errorf("ParseDevice(CUDA) = %q, %v", d, err)
	}
	if _, err := ParseDevice("rocm"); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("ParseDevice(rocm) error = %v", err)
	}
}
