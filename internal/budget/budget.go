// Package budget is the Budget Tracker (spec.md §4.8): aggregates per-task
// usage and evaluates whether a run has breached its configured thresholds.
package budget

import "github.com/anthropics/mycelium-executor/internal/state"

// Mode is the enforcement level.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeWarn  Mode = "warn"
	ModeBlock Mode = "block"
)

// Config mirrors the budgets section of ProjectConfig (spec.md §4.8).
type Config struct {
	Mode             Mode
	MaxTokensPerTask int64
	MaxCostPerTask   float64
	MaxTokensPerRun  int64
	MaxCostPerRun    float64
}

// StopReasonBudgetBlock is the only stop reason this package produces.
const StopReasonBudgetBlock = "budget_block"

// Breach names the threshold a task or run breached.
type Breach struct {
	TaskID string
	Reason string
}

// EvaluateBreaches checks per-task and per-run thresholds against the
// current state, returning the breaches found and whether a block resulted
// (spec.md §4.8: warn logs only; block returns stopReason="budget_block").
func EvaluateBreaches(cfg Config, rs *state.RunState, taskIDs []string) (breaches []Breach, stopReason string) {
	if cfg.Mode == ModeOff {
		return nil, ""
	}

	for _, id := range taskIDs {
		task, ok := rs.Tasks[id]
		if !ok {
			continue
		}
		if cfg.MaxTokensPerTask > 0 {
			total := task.Usage.InputTokens + task.Usage.CachedInputTokens + task.Usage.OutputTokens
			if total > cfg.MaxTokensPerTask {
				breaches = append(breaches, Breach{TaskID: id, Reason: "max_tokens_per_task"})
			}
		}
		if cfg.MaxCostPerTask > 0 && task.Usage.EstimatedCost > cfg.MaxCostPerTask {
			breaches = append(breaches, Breach{TaskID: id, Reason: "max_cost_per_task"})
		}
	}

	if cfg.MaxTokensPerRun > 0 {
		total := rs.Usage.InputTokens + rs.Usage.CachedInputTokens + rs.Usage.OutputTokens
		if total > cfg.MaxTokensPerRun {
			breaches = append(breaches, Breach{Reason: "max_tokens_per_run"})
		}
	}
	if cfg.MaxCostPerRun > 0 && rs.Usage.EstimatedCost > cfg.MaxCostPerRun {
		breaches = append(breaches, Breach{Reason: "max_cost_per_run"})
	}

	if len(breaches) == 0 {
		return nil, ""
	}
	if cfg.Mode == ModeBlock {
		return breaches, StopReasonBudgetBlock
	}
	return breaches, ""
}
