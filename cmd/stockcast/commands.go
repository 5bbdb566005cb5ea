package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stockcast/internal/authz"
	"stockcast/internal/domain"
	"stockcast/internal/scheduler"
)

// schedulerActor runs unattended jobs with full generate rights.
var schedulerActor = authz.Actor{ID: "scheduler", Role: authz.RoleOwner}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the forecast core as a long-lived process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, cleanup, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if err := svc.Start(ctx); err != nil {
				return err
			}

			sched := scheduler.New(30 * time.Second)
			daily, err := scheduler.DailyAt(cfg.Forecast.DailyRunAt)
			if err != nil {
				return err
			}
			sched.Add(scheduler.Job{
				Name: "daily-forecast",
				Next: daily,
				Run: func(ctx context.Context) error {
					_, err := svc.GenerateForecast(ctx, schedulerActor, cfg.Forecast.HorizonDays, "", "")
					return err
				},
			})
			sched.Add(scheduler.Job{
				Name: "apply-pending-feedback",
				Next: scheduler.Every(time.Hour),
				Run: func(ctx context.Context) error {
					_, err := svc.ApplyPendingFeedback(ctx, schedulerActor)
					return err
				},
			})
			sched.Start()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			sig := <-stop
			log.Info().Str("signal", sig.String()).Msg("shutting down")

			svc.Stop()
			return sched.Stop()
		},
	}
}

func forecastCmd() *cobra.Command {
	var horizon int
	var tenant, location string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Run one forecast cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.GenerateForecast(cmd.Context(), actor(), horizon, tenant, location)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 7, "forecast horizon in days")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant")
	cmd.Flags().StringVar(&location, "location", "", "location")
	return cmd
}

func approveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "approve <run-id>",
		Short: "Approve a completed forecast run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return svc.Approve(cmd.Context(), actor(), args[0], note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "decision note (required)")
	return cmd
}

func rejectCmd() *cobra.Command {
	var note, reason string
	cmd := &cobra.Command{
		Use:   "reject <run-id>",
		Short: "Reject a completed forecast run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return svc.Reject(cmd.Context(), actor(), args[0], note, domain.RejectReason(reason))
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "decision note (required)")
	cmd.Flags().StringVar(&reason, "reason", "other", "reason code (inaccurate|too_high|too_low|other)")
	return cmd
}

func feedbackCmd() *cobra.Command {
	var fbType, reason string
	var adjustment float64
	cmd := &cobra.Command{
		Use:   "feedback <line-id>",
		Short: "Submit feedback against a forecast line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid line id %q: %w", args[0], domain.ErrInvalidArgument)
			}

			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.SubmitFeedback(cmd.Context(), actor(), lineID,
				domain.FeedbackType(fbType), adjustment, reason)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&fbType, "type", "adjustment", "feedback type (adjustment|approval|rejection)")
	cmd.Flags().Float64Var(&adjustment, "adjustment", 0, "human-adjusted quantity")
	cmd.Flags().StringVar(&reason, "reason", "", "free-text reason")
	return cmd
}

func accuracyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "accuracy",
		Short: "Report forecast accuracy over the trailing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			to := time.Now()
			rec, err := svc.CalculateAccuracy(cmd.Context(), actor(), to.AddDate(0, 0, -days), to)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "trailing window in days")
	return cmd
}

func recommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <run-id>",
		Short: "Generate ABC-classified reorder recommendations from a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			recs, err := svc.GenerateRecommendations(cmd.Context(), actor(), args[0])
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Run one health audit immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := svc.TriggerAudit(cmd.Context(), actor())
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
