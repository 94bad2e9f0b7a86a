package runengine

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/mycelium-executor/internal/batchengine"
	"github.com/anthropics/mycelium-executor/internal/config"
	"github.com/anthropics/mycelium-executor/internal/events"
	"github.com/anthropics/mycelium-executor/internal/fileutil"
	"github.com/anthropics/mycelium-executor/internal/ledger"
	"github.com/anthropics/mycelium-executor/internal/manifest"
	"github.com/anthropics/mycelium-executor/internal/state"
	"github.com/anthropics/mycelium-executor/internal/stopsignal"
	"github.com/anthropics/mycelium-executor/internal/taskengine"
	"github.com/anthropics/mycelium-executor/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Deps bundles everything the Run Engine needs that isn't part of the
// per-run data it owns.
type Deps struct {
	Cfg             *config.ProjectConfig
	RepoPath        string
	Project         string
	RunID           string
	OrchestratorLog zerolog.Logger
	LLM             validation.LLMClient
	Stop            *stopsignal.Handler
}

// Run implements the Run Engine's top-level loop (spec.md §4.12).
func Run(ctx context.Context, deps Deps, now func() time.Time) (*state.RunState, error) {
	statePath := fileutil.RunStatePath(deps.Project, deps.RunID)
	runEventsPath := fileutil.OrchestratorLogPath(deps.Project, deps.RunID)
	runEvents := events.NewLogger(runEventsPath)

	rs, err := loadOrCreateState(statePath, deps, now(), runEvents)
	if err != nil {
		return nil, err
	}
	_ = runEvents.Log(events.TypeRunStart, map[string]interface{}{"project": deps.Project, "run_id": deps.RunID})

	specs, err := manifest.LoadAll(fileutil.TasksDir(deps.RepoPath, deps.Cfg.TasksDir))
	if err != nil {
		return nil, fmt.Errorf("loading task specs: %w", err)
	}

	ld, err := ledger.Load(fileutil.LedgerPath(deps.Project))
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	specIndex := manifest.BuildDependencyIndex(specs)
	for id, spec := range specIndex {
		spec := spec
		if _, exists := rs.Tasks[id]; !exists {
			rs.Tasks[id] = &state.TaskState{Status: state.StatusPending}
		}
		task := rs.Tasks[id]
		if task.Status != state.StatusPending {
			continue
		}
		if entry, ok := ld.Lookup(id); ok {
			fp, err := ledger.ComputeFingerprint(spec.ManifestPath, spec.SpecPath)
			if err == nil && fp == entry.Fingerprint && entry.IntegrationDoctorPassed {
				task.Status = state.StatusSkipped
			}
		}
	}
	if err := state.Save(statePath, rs, now()); err != nil {
		return nil, fmt.Errorf("saving state after pre-skip: %w", err)
	}

	taskEngine := taskengine.New(deps.Cfg, deps.RepoPath, deps.Project, deps.RunID, deps.OrchestratorLog)
	batchEngine := &batchengine.Engine{
		Cfg:             deps.Cfg,
		RepoPath:        deps.RepoPath,
		Project:         deps.Project,
		RunID:           deps.RunID,
		Ledger:          ld,
		OrchestratorLog: deps.OrchestratorLog,
		RunEvents:       runEvents,
		Validators:      validatorConfigs(deps.Cfg),
		LLM:             deps.LLM,
		Specs:           specsByID(specIndex),
	}

	batchID := len(rs.Batches)
	for {
		if deps.Stop != nil && deps.Stop.Stopped() {
			rs.Status = state.RunPaused
			break
		}

		resuming := RunningTasks(specsFrom(specIndex), rs)
		batch := SelectBatch(specsFrom(specIndex), rs)
		allBatch := append(append([]string{}, resuming...), batch...)
		if len(allBatch) == 0 {
			if rs.AllTasksTerminal() {
				rs.Status = state.RunComplete
			} else {
				rs.Status = state.RunFailed
			}
			break
		}

		batchID++
		startedAt := now()
		rs.Batches = append(rs.Batches, &state.BatchRecord{
			BatchID:   batchID,
			TaskIDs:   allBatch,
			Status:    state.BatchRunning,
			StartedAt: startedAt,
		})
		_ = runEvents.Log(events.TypeBatchStart, map[string]interface{}{"batch_id": batchID, "task_ids": allBatch})
		if err := state.Save(statePath, rs, now()); err != nil {
			return nil, fmt.Errorf("saving state at batch start: %w", err)
		}

		results := fanOut(ctx, deps, taskEngine, specIndex, rs, resuming, batch, now())

		stopReason, err := batchEngine.Finalize(ctx, batchengine.Input{
			BatchID:    batchID,
			BatchTasks: allBatch,
			Results:    results,
			RunState:   rs,
		}, now())
		if err != nil {
			return nil, fmt.Errorf("finalizing batch %d: %w", batchID, err)
		}
		_ = runEvents.Log(events.TypeBatchComplete, map[string]interface{}{"batch_id": batchID, "stop_reason": stopReason})
		if err := state.Save(statePath, rs, now()); err != nil {
			return nil, fmt.Errorf("saving state after batch finalize: %w", err)
		}

		if stopReason != "" {
			break
		}
	}

	_ = runEvents.Log(events.TypeRunSummary, map[string]interface{}{"status": rs.Status})
	if err := state.Save(statePath, rs, now()); err != nil {
		return nil, fmt.Errorf("saving final state: %w", err)
	}
	return rs, nil
}

func loadOrCreateState(path string, deps Deps, now time.Time, log *events.Logger) (*state.RunState, error) {
	staleAfter := time.Duration(deps.Cfg.StaleAfterSeconds) * time.Second
	rs, err := state.Load(path, true, staleAfter, now, log)
	if err == state.ErrNotFound {
		rs = state.New(deps.Project, deps.RunID, now)
		rs.Status = state.RunRunning
		return rs, nil
	}
	if err != nil {
		return nil, err
	}
	rs.Status = state.RunRunning
	return rs, nil
}

func fanOut(ctx context.Context, deps Deps, te *taskengine.Engine, specIndex map[string]manifest.TaskSpec, rs *state.RunState, resuming, fresh []string, now time.Time) map[string]taskengine.AttemptResult {
	sem := semaphore.NewWeighted(int64(deps.Cfg.MaxParallel))
	results := make(map[string]taskengine.AttemptResult)
	resultCh := make(chan struct {
		id  string
		res taskengine.AttemptResult
	}, len(resuming)+len(fresh))

	run := func(id string, resume bool) {
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			spec := specIndex[id]
			task := rs.Tasks[id]
			var res taskengine.AttemptResult
			var err error
			if resume {
				res, err = te.ResumeRunningTask(ctx, &spec, task)
			} else {
				res, err = te.RunTaskAttempt(ctx, &spec, task, now)
			}
			if err != nil {
				res = taskengine.AttemptResult{Success: false, ErrorMessage: err.Error()}
			}
			resultCh <- struct {
				id  string
				res taskengine.AttemptResult
			}{id, res}
		}()
	}

	total := len(resuming) + len(fresh)
	for _, id := range resuming {
		run(id, true)
	}
	for _, id := range fresh {
		run(id, false)
	}
	for i := 0; i < total; i++ {
		r := <-resultCh
		results[r.id] = r.res
	}
	return results
}

func validatorConfigs(cfg *config.ProjectConfig) map[validation.Name]validation.Config {
	return map[validation.Name]validation.Config{
		validation.NameTest:         {Mode: validation.Mode(cfg.Validators.Test.Mode)},
		validation.NameStyle:        {Mode: validation.Mode(cfg.Validators.Style.Mode)},
		validation.NameArchitecture: {Mode: validation.Mode(cfg.Validators.Architecture.Mode), FailIfDocsMissing: cfg.Validators.Architecture.FailIfDocsMissing},
		validation.NameDoctor:       {Mode: validation.Mode(cfg.Validators.Doctor.Mode)},
	}
}

func specsByID(specIndex map[string]manifest.TaskSpec) map[string]*manifest.TaskSpec {
	out := make(map[string]*manifest.TaskSpec, len(specIndex))
	for id, s := range specIndex {
		s := s
		out[id] = &s
	}
	return out
}

func specsFrom(specIndex map[string]manifest.TaskSpec) []manifest.TaskSpec {
	out := make([]manifest.TaskSpec, 0, len(specIndex))
	for _, s := range specIndex {
		out = append(out, s)
	}
	return out
}
