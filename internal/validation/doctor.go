package validation

import (
	"context"
	"fmt"
)

// DoctorTrigger names why the doctor validator ran (spec.md §4.7).
type DoctorTrigger string

const (
	TriggerCadence                DoctorTrigger = "cadence"
	TriggerIntegrationDoctorFailed DoctorTrigger = "integration_doctor_failed"
	TriggerDoctorCanaryFailed     DoctorTrigger = "doctor_canary_failed"
	TriggerManual                 DoctorTrigger = "manual"
)

const maxDoctorLogSnippets = 6
const doctorLogSnippetBytes = 2048

// DoctorLogSnippet is one recent doctor run's truncated output.
type DoctorLogSnippet struct {
	Attempt int
	Output  string
}

// RunDoctor invokes the doctor validator (spec.md §4.7: "invoked by the
// Batch Engine, not per task"). It analyses at most the 6 most recent
// doctor runs, newest first, each truncated to 2 KB, together with a diff
// summary against mainline.
func RunDoctor(ctx context.Context, cfg Config, trigger DoctorTrigger, llm LLMClient, recentLogs []DoctorLogSnippet, diffSummary string) (Result, error) {
	if cfg.Mode == ModeOff {
		return Result{Validator: NameDoctor, Effective: true, Pass: true, Mode: cfg.Mode, Trigger: string(trigger)}, nil
	}
	if llm == nil {
		return Result{}, fmt.Errorf("no LLM client configured for doctor validator")
	}

	snippets := recentLogs
	if len(snippets) > maxDoctorLogSnippets {
		snippets = snippets[:maxDoctorLogSnippets]
	}

	prompt := fmt.Sprintf("Doctor validator triggered by %s.\n\nDiff summary:\n%s\n\nRecent doctor runs (newest first):\n",
		trigger, diffSummary)
	for _, s := range snippets {
		out := s.Output
		if len(out) > doctorLogSnippetBytes {
			out = out[:doctorLogSnippetBytes]
		}
		prompt += fmt.Sprintf("\n--- attempt %d ---\n%s\n", s.Attempt, out)
	}

	resp, err := llm.Complete(ctx, prompt, validatorSchema(NameDoctor))
	if err != nil {
		return Result{}, err
	}

	result := parseValidatorResponse(NameDoctor, resp)
	result.Mode = cfg.Mode
	result.Trigger = string(trigger)
	if effective, ok := resp.Parsed["effective"].(bool); ok {
		result.Effective = effective
	}
	return result, nil
}
