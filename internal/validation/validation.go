// Package validation is the Validation Pipeline (spec.md §4.7): runs the
// enabled validators (test, style, architecture, doctor) against a task's
// finished attempt and decides which results block completion.
package validation

import (
	"context"
	"fmt"
)

// Mode is a single validator's enforcement level.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
)

// LLMResponse is the external LLM client contract (spec.md §6): "returns
// {text, parsed, finishReason} with an optional JSON schema".
type LLMResponse struct {
	Text         string
	Parsed       map[string]interface{}
	FinishReason string
}

// LLMClient is implemented by whatever model backend validators call.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, jsonSchema map[string]interface{}) (LLMResponse, error)
}

// Name identifies one validator.
type Name string

const (
	NameTest         Name = "test"
	NameStyle        Name = "style"
	NameArchitecture Name = "architecture"
	NameDoctor       Name = "doctor"
)

// Config is one validator's settings.
type Config struct {
	Mode              Mode
	FailIfDocsMissing bool
}

// Result is a single validator's outcome (spec.md §4.7 table).
type Result struct {
	Validator  Name                   `json:"validator"`
	Pass       bool                   `json:"pass"`
	Effective  bool                   `json:"effective"`
	Summary    string                 `json:"summary"`
	Concerns   []string               `json:"concerns,omitempty"`
	CoverageGaps []string             `json:"coverage_gaps,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Confidence float64                `json:"confidence"`
	Mode       Mode                   `json:"mode"`
	Trigger    string                 `json:"trigger,omitempty"`
	ReportPath string                 `json:"report_path,omitempty"`
	Raw        map[string]interface{} `json:"-"`
}

// Blocked is a validator result the pipeline decided must block completion.
type Blocked struct {
	Validator  Name   `json:"validator"`
	Reason     string `json:"reason"`
	Summary    string `json:"summary,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
	Mode       Mode   `json:"mode"`
	Status     string `json:"status"`
	Trigger    string `json:"trigger,omitempty"`
}

// PipelineResult is what runTaskValidators returns (spec.md §4.7).
type PipelineResult struct {
	TaskID  string    `json:"task_id"`
	Results []Result  `json:"results"`
	Blocked []Blocked `json:"blocked"`
}

// TaskInput is everything a task-scoped validator needs.
type TaskInput struct {
	TaskID       string
	DocsPresent  bool
	DiffSummary  string
	TestSummary  string
	LLM          LLMClient
	ReportWriter func(name Name, result Result) (string, error)
}

// RunTaskValidators runs test, style, and (conditionally) architecture in
// declared order against one task's finished attempt (spec.md §4.7). Doctor
// is excluded: it is invoked only by the Batch Engine (see RunDoctor).
func RunTaskValidators(ctx context.Context, cfgs map[Name]Config, in TaskInput) (PipelineResult, error) {
	pr := PipelineResult{TaskID: in.TaskID}

	order := []Name{NameTest, NameStyle, NameArchitecture}
	for _, name := range order {
		cfg, enabled := cfgs[name]
		if !enabled || cfg.Mode == ModeOff {
			continue
		}
		if name == NameArchitecture && !in.DocsPresent && !cfg.FailIfDocsMissing {
			continue
		}

		result, err := runValidator(ctx, name, cfg, in)
		if err != nil {
			return pr, fmt.Errorf("running %s validator: %w", name, err)
		}
		if in.ReportWriter != nil {
			path, err := in.ReportWriter(name, result)
			if err == nil {
				result.ReportPath = path
			}
		}
		pr.Results = append(pr.Results, result)

		if cfg.Mode == ModeBlock && !result.Pass {
			pr.Blocked = append(pr.Blocked, Blocked{
				Validator:  name,
				Reason:     fmt.Sprintf("%s validator failed", name),
				Summary:    result.Summary,
				ReportPath: result.ReportPath,
				Mode:       cfg.Mode,
				Status:     "fail",
			})
		}
	}

	return pr, nil
}

func runValidator(ctx context.Context, name Name, cfg Config, in TaskInput) (Result, error) {
	if in.LLM == nil {
		return Result{}, fmt.Errorf("no LLM client configured for %s validator", name)
	}

	prompt := buildValidatorPrompt(name, in)
	resp, err := in.LLM.Complete(ctx, prompt, validatorSchema(name))
	if err != nil {
		return Result{}, err
	}

	result := parseValidatorResponse(name, resp)
	result.Mode = cfg.Mode
	return result, nil
}

func buildValidatorPrompt(name Name, in TaskInput) string {
	switch name {
	case NameTest:
		return fmt.Sprintf("Assess test coverage for task %s.\n\nDiff:\n%s\n\nTest run summary:\n%s\n",
			in.TaskID, in.DiffSummary, in.TestSummary)
	case NameStyle:
		return fmt.Sprintf("Assess code style for task %s.\n\nDiff:\n%s\n", in.TaskID, in.DiffSummary)
	case NameArchitecture:
		return fmt.Sprintf("Assess architectural fit for task %s.\n\nDiff:\n%s\n", in.TaskID, in.DiffSummary)
	default:
		return in.DiffSummary
	}
}

func validatorSchema(name Name) map[string]interface{} {
	props := map[string]interface{}{
		"pass":       map[string]interface{}{"type": "boolean"},
		"summary":    map[string]interface{}{"type": "string"},
		"concerns":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"confidence": map[string]interface{}{"type": "number"},
	}
	switch name {
	case NameTest:
		props["coverage_gaps"] = map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
	case NameArchitecture, NameDoctor:
		props["recommendations"] = map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"pass", "summary"},
	}
}

func parseValidatorResponse(name Name, resp LLMResponse) Result {
	r := Result{Validator: name, Raw: resp.Parsed, Effective: true}
	if resp.Parsed == nil {
		r.Pass = false
		r.Summary = "validator response could not be parsed"
		return r
	}
	if pass, ok := resp.Parsed["pass"].(bool); ok {
		r.Pass = pass
	}
	if summary, ok := resp.Parsed["summary"].(string); ok {
		r.Summary = summary
	}
	if conf, ok := resp.Parsed["confidence"].(float64); ok {
		r.Confidence = conf
	}
	r.Concerns = stringSlice(resp.Parsed["concerns"])
	r.CoverageGaps = stringSlice(resp.Parsed["coverage_gaps"])
	r.Recommendations = stringSlice(resp.Parsed["recommendations"])
	return r
}

func stringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
