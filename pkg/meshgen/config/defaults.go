// Package config loads meshgen configuration from the YAML config file,
// MESHGEN_* environment variables and built-in defaults.
package config

// Default configuration values.
const (
	// DefaultPython is the interpreter used to run the inference tool.
	DefaultPython = "python"

	// DefaultScript is the tool's command-line entry point, relative to the
	// tool working directory.
	DefaultScript = "run.py"

	// DefaultOutputDir receives generated meshes when no directory is chosen.
	DefaultOutputDir = "./outputs"

	// DefaultRequirements is the tool's requirements file, relative to the
	// tool working directory.
	DefaultRequirements = "requirements.txt"

	// DefaultCUDAIndexURL serves the GPU build of the tensor library.
	DefaultCUDAIndexURL = "https://download.pytorch.org/whl/cu121"

	// DefaultCPUIndexURL serves the CPU-only build of the tensor library.
	DefaultCPUIndexURL = "https://download.pytorch.org/whl/cpu"

	// DefaultMarker is created once the marching cubes extension imports.
	DefaultMarker = ".torchmcubes_built"

	// DefaultRetentionDays is how long run history is kept.
	DefaultRetentionDays = 30
)

// DefaultTorchPackages are installed from the CUDA or CPU package index
// instead of the requirements file.
var DefaultTorchPackages = []string{"torch", "torchvision", "torchaudio"}

// DefaultPins relaxes requirement pins that have no wheels for current
// Python releases.
var DefaultPins = map[string]string{"transformers": ">=4.39.0"}

// DefaultPrePackages are installed ahead of the requirements file.
var DefaultPrePackages = []string{"transformers>=4.39.0", "tokenizers>=0.15.0"}

// DefaultOptionalPackages back optional features such as background removal.
var DefaultOptionalPackages = []string{"onnxruntime"}

// DefaultRequiredPackages must install for setup to succeed.
var DefaultRequiredPackages = []string{"gradio"}

// DefaultForcePackages keep mesh export compatible after every other install.
var DefaultForcePackages = []string{"numpy<2.0"}
