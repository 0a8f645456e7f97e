package main

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// boolFlags maps the switch flags onto their parameter.
var boolFlags = []struct {
	name  string
	usage string
	field func(*params.Params) *bool
}{
	{"bake-texture", "bake a texture atlas (runs the tool on the CPU and exports OBJ)",
		func(p *params.Params) *bool { return &p.BakeTexture }},
	{"render", "render turntable views of the result",
		func(p *params.Params) *bool { return &p.Render }},
	{"safe-mode", fmt.Sprintf("cap mc-resolution %d, chunk-size %d and texture-resolution %d, and skip rendering",
		params.SafeMCResolution, params.SafeChunkSize, params.SafeTextureResolution),
		func(p *params.Params) *bool { return &p.SafeMode }},
	{"delete-preview", "delete the input.png preview after a successful run",
		func(p *params.Params) *bool { return &p.DeletePreview }},
}

// registerParamFlags adds the generation parameter flags to cmd. Defaults
// are the built-in ones; only flags the user sets override preferences.
func registerParamFlags(cmd *cobra.Command) {
	def := params.Default()
	f := cmd.Flags()

	for _, key := range params.SliderKeys {
		spec := params.SpecFor(key)
		f.Int(spec.Flag, def.Slider(key).Value(),
			fmt.Sprintf("%s, power of two from %d to %d", spec.Name, 1<<spec.MinExp, 1<<spec.MaxExp))
	}
	for _, bf := range boolFlags {
		f.Bool(bf.name, *bf.field(&def), bf.usage)
	}
	f.Bool("no-rembg", false, "keep the image background")
	f.Float64("foreground-ratio", def.ForegroundRatio,
		fmt.Sprintf("share of the frame the subject fills (%g-%g)", params.MinForegroundRatio, params.MaxForegroundRatio))
	f.String("device", string(def.Device), "compute device: auto, cuda, cpu (texture baking always uses cpu)")
	f.BoolP("yes", "y", false, "start without asking when parameters were lowered or the load is high")

	f.StringP("output-dir", "d", "", "directory receiving generated meshes")
	f.BoolP("recursive", "r", false, "collect images from subdirectories too")
	f.StringSliceP("exclude", "e", nil, "exclude image name patterns (can be specified multiple times)")
	f.Bool("reset", false, "ignore saved preferences for this run")
}

// applyParamFlags overlays every flag the user set on base. Slider values
// must lie within the slider's range and snap to the nearest power of two.
func applyParamFlags(flags *pflag.FlagSet, base params.Params) (params.Params, error) {
	p := base
	var errs []error

	for _, key := range params.SliderKeys {
		spec := params.SpecFor(key)
		if !flags.Changed(spec.Flag) {
			continue
		}
		v, err := flags.GetInt(spec.Flag)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v < 1<<spec.MinExp || v > 1<<spec.MaxExp {
			errs = append(errs, fmt.Errorf("%w: --%s %d outside %d..%d",
				params.ErrInvalidParam, spec.Flag, v, 1<<spec.MinExp, 1<<spec.MaxExp))
			continue
		}
		s := params.NewSlider(key)
		s.SetValue(v)
		if s.Value() != v {
			printVerbose("--%s %d rounded to %d", spec.Flag, v, s.Value())
		}
		p.SetSlider(s)
	}

	for _, bf := range boolFlags {
		if flags.Changed(bf.name) {
			*bf.field(&p), _ = flags.GetBool(bf.name)
		}
	}
	if flags.Changed("no-rembg") {
		noRembg, _ := flags.GetBool("no-rembg")
		p.RemoveBackground = !noRembg
	}
	if flags.Changed("foreground-ratio") {
		r, _ := flags.GetFloat64("foreground-ratio")
		if r < params.MinForegroundRatio || r > params.MaxForegroundRatio {
			errs = append(errs, fmt.Errorf("%w: --foreground-ratio %g outside %g..%g",
				params.ErrInvalidParam, r, params.MinForegroundRatio, params.MaxForegroundRatio))
		} else {
			p.ForegroundRatio = r
		}
	}
	if flags.Changed("device") {
		s, _ := flags.GetString("device")
		d, err := params.ParseDevice(s)
		if err != nil {
			errs = append(errs, err)
		} else {
			p.Device = d
		}
	}

	if err := errors.Join(errs...); err != nil {
		return base, err
	}
	return p, nil
}
