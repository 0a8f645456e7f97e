package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// document is the shared shape of the JSON and YAML output.
type document struct {
	Runs        []runDoc `json:"runs" yaml:"runs"`
	Summary     summary  `json:"summary" yaml:"summary"`
	Params      any      `json:"params" yaml:"params"`
	Tier        string   `json:"tier" yaml:"tier"`
	LoadScore   float64  `json:"load_score" yaml:"load_score"`
	Adjustments []string `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
}

type runDoc struct {
	Run      `yaml:",inline"`
	Duration string `json:"duration" yaml:"duration"`
}

type summary struct {
	Total       int    `json:"total" yaml:"total"`
	Succeeded   int    `json:"succeeded" yaml:"succeeded"`
	Artifacts   int    `json:"artifacts" yaml:"artifacts"`
	Duration    string `json:"duration" yaml:"duration"`
	Interrupted bool   `json:"interrupted" yaml:"interrupted"`
}

func buildDocument(r *Result) document {
	runs := make([]runDoc, len(r.Runs))
	for i, run := range r.Runs {
		if run.Artifacts == nil {
			run.Artifacts = []Artifact{}
		}
		runs[i] = runDoc{Run: run, Duration: formatDuration(run.Duration)}
	}
	return document{
		Runs: runs,
		Summary: summary{
			Total:       len(r.Runs),
			Succeeded:   r.Succeeded(),
			Artifacts:   r.ArtifactCount(),
			Duration:    formatDuration(r.Duration),
			Interrupted: r.Interrupted,
		},
		Params:      r.Params,
		Tier:        r.Tier,
		LoadScore:   r.LoadScore,
		Adjustments: r.Adjustments,
	}
}

// JSONFormatter writes an indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildDocument(r))
}

// YAMLFormatter writes the same document as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(buildDocument(r)); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
