package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bobarin/montage/internal/config"
	"github.com/bobarin/montage/internal/models"
	"github.com/bobarin/montage/internal/orchestrator"
	"github.com/bobarin/montage/internal/plan"
	"github.com/bobarin/montage/internal/production"
	"github.com/bobarin/montage/internal/providers"
	"github.com/bobarin/montage/internal/storage"
)

func newPlanCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "plan <production-file>",
		Short: "Generate every scene and write the render plan",
		Long: "Generate every scene of a production with the enabled providers and write the\n" +
			"resulting render plan as JSON. Providers and timeline settings come from the\n" +
			"same environment variables as the API server.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prod, err := loadProduction(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var uploader providers.Uploader
			var opts []production.Option
			if cfg.StorageConfigured() {
				stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
				uploader = stor
				opts = append(opts, production.WithArtifacts(stor))
			}
			registry, err := providers.Build(ctx, cfg, uploader)
			if err != nil {
				return err
			}

			orch := orchestrator.New(registry, orchestrator.ConfigFrom(cfg.Orchestrator), orchestrator.WithSink(orchestrator.LogSink{}))
			svc := production.NewService(orch, plan.SettingsFrom(cfg), opts...)

			run, err := svc.Run(ctx, prod)
			if err != nil {
				return err
			}
			if run.Plan == nil {
				return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
			}

			data, err := json.MarshalIndent(run.Plan, "", "  ")
			if err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			if outPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}

			report := cmd.ErrOrStderr()
			fmt.Fprintln(report, renderResolutions(run.Resolutions))
			for _, w := range run.Plan.Warnings {
				fmt.Fprintf(report, "warning [%s] %s\n", w.Code, w.Message)
			}
			fmt.Fprintf(report, "Run %s: %d frames at %d fps, %d scene errors\n",
				run.ID, run.Plan.Metadata.TotalFrames, run.Plan.Metadata.FPS, len(run.Plan.SceneErrors))
			if run.PlanURL != "" {
				fmt.Fprintf(report, "Plan published to %s\n", run.PlanURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the plan to this file instead of stdout")
	return cmd
}

func renderResolutions(resolutions []models.SceneResolution) string {
	rows := make([][]string, 0, len(resolutions))
	for _, r := range resolutions {
		provider := r.Media.Provider
		if provider == "" {
			provider = "-"
		}
		rows = append(rows, []string{
			r.SceneID,
			string(r.Outcome),
			provider,
			strconv.Itoa(r.Task.Attempts),
			r.Media.URI,
		})
	}
	columns := []column{{title: "Scene"}, {title: "Outcome"}, {title: "Provider"}, {title: "Attempts", numeric: true}, {title: "Media", maxWidth: mediaWidth}}
	return renderTable(columns, rows)
}
