package worker

import (
	"encoding/json"
	"strings"
)

const usageTrailerPrefix = "MYCELIUM-USAGE:"
const resetTrailerPrefix = "MYCELIUM-RESET:"

// parseUsageTrailer scans an agent's transcript for a trailer line of the
// form "MYCELIUM-USAGE: {...}" emitted by the coding agent at turn end, and
// decodes it into TurnUsage. Agents that never emit the trailer simply
// contribute zero usage for the turn.
func parseUsageTrailer(transcript string) TurnUsage {
	var usage TurnUsage
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, usageTrailerPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, usageTrailerPrefix))
		if err := json.Unmarshal([]byte(payload), &usage); err == nil {
			return usage
		}
	}
	return usage
}

// parseResetTrailer scans an agent's transcript for a trailer line of the
// form "MYCELIUM-RESET: true" emitted by an agent that lost its working
// thread and wants the task re-queued rather than treated as a failed
// attempt (spec.md §4.5 step 5 / §4.10: "agent reports a transient failure
// that should re-queue the task, e.g. thread lost").
func parseResetTrailer(transcript string) bool {
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, resetTrailerPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, resetTrailerPrefix))
		if payload == "true" {
			return true
		}
	}
	return false
}
