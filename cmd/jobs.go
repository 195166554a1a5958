package cmd

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"worker-notes/config"
	"worker-notes/repository"
	server2 "worker-notes/server"
)

func sweep(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "generate every due lecture once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			deps, err := server2.NewDependencies(ctx, config)
			if err != nil {
				return err
			}
			defer deps.Close()

			result, err := deps.SweepWorker.Sweep(ctx)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().
				Int("due", result.Due).
				Int("generated", result.Generated).
				Int("failed", result.Failed).
				Int("skipped", result.Skipped).
				Msg("sweep finished")
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d due lectures failed", result.Failed, result.Due)
			}
			return nil
		},
	}
}

func reschedule(config *config.Config) *cobra.Command {
	var courseId string
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "recompute due times of a course's pending lectures",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(courseId)
			if err != nil {
				return fmt.Errorf("invalid course id: %w", err)
			}
			ctx := server2.SetupLogger(config)
			deps, err := server2.NewDependencies(ctx, config)
			if err != nil {
				return err
			}
			defer deps.Close()

			_, err = deps.Scheduler.RescheduleAssembliesFor(ctx, id)
			return err
		},
	}
	cmd.Flags().StringVar(&courseId, "course", "", "course id")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the worker tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			repo, err := repository.NewRepo(config.DB)
			if err != nil {
				return err
			}
			if err := repo.AutoMigrate(ctx); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Msg("migration finished")
			return nil
		},
	}
}
