package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/mycelium-executor/internal/config"
	"github.com/anthropics/mycelium-executor/internal/obslog"
	"github.com/anthropics/mycelium-executor/internal/runengine"
	"github.com/anthropics/mycelium-executor/internal/stopsignal"
	"github.com/anthropics/mycelium-executor/internal/validation"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	repoPath string
	runID    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start (or resume) a run against the configured tasks directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, "config error:", e)
			}
			return fmt.Errorf("%d config error(s)", len(errs))
		}

		if runID == "" {
			runID = uuid.NewString()
		}
		logger := obslog.New(os.Stderr, cfg.Project, runID)

		stop := stopsignal.New(nil)
		defer stop.Stop()

		rs, err := runengine.Run(context.Background(), runengine.Deps{
			Cfg:             cfg,
			RepoPath:        repoPath,
			Project:         cfg.Project,
			RunID:           runID,
			OrchestratorLog: logger,
			LLM:             noopLLMClient{},
			Stop:            stop,
		}, time.Now)
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}

		logger.Info().Str("status", string(rs.Status)).Msg("run finished")
		if rs.Status == "failed" {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&repoPath, "repo", ".", "Path to the target git repository")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run id to resume; generated if omitted")
}

// noopLLMClient is the default LLM client wiring: a real deployment injects
// one of the validation-panel clients; without one configured, validators
// in block mode fail closed rather than silently passing.
type noopLLMClient struct{}

func (noopLLMClient) Complete(ctx context.Context, prompt string, schema map[string]interface{}) (validation.LLMResponse, error) {
	return validation.LLMResponse{}, fmt.Errorf("no LLM client configured")
}
