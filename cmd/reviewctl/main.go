// Command reviewctl runs maintenance tasks against the review database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"journal-review-api/config"
	"journal-review-api/middleware"
	"journal-review-api/models"
	"journal-review-api/services"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// notificationGrace bounds how long a command waits for queued emails,
// including their retries.
const notificationGrace = 90 * time.Second

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

func (e exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var exitErr exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

type app struct {
	settings *config.Settings
	logger   *logrus.Logger
}

func rootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Journal review maintenance tool",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				logrus.Debug("No .env file found, using environment variables")
			}
			settings, err := config.Load()
			if err != nil {
				return err
			}
			a.settings = settings
			_, a.logger = config.InitLogging(config.LogSettings{Level: settings.Log.Level})
			return nil
		},
	}

	cmd.AddCommand(a.migrateCommand(), a.assignNextCommand(), a.remindCommand(), a.tokenCommand())
	return cmd
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the review tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := config.InitDB(a.settings)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(models.All()...); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		},
	}
}

func (a *app) assignNextCommand() *cobra.Command {
	var (
		articleID string
		round     int
	)
	cmd := &cobra.Command{
		Use:   "assign-next",
		Short: "Pick a new reviewer for an article round",
		RunE: func(cmd *cobra.Command, args []string) error {
			if articleID == "" {
				return errors.New("--article is required")
			}
			repo, err := services.OpenRepository(a.settings, a.logger)
			if err != nil {
				return err
			}
			notifier := services.NewNotifier(a.settings, repo, a.logger)
			workflow := services.NewWorkflowFromSettings(a.settings, repo, notifier, nil, a.logger)

			outcome, err := workflow.AssignNextRound(context.Background(), articleID, round)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), notificationGrace)
			defer cancel()
			if err := services.WaitForNotifications(ctx, notifier); err != nil {
				a.logger.WithError(err).Warn("assignment email may not have been sent")
			}

			switch outcome.Outcome {
			case services.EscalationAssigned:
				fmt.Fprintf(cmd.OutOrStdout(), "Round %d assigned to reviewer %s (review %s)\n",
					outcome.Round, outcome.Review.ReviewerID, outcome.Review.ID)
			case services.EscalationExhausted:
				fmt.Fprintf(cmd.OutOrStdout(), "No available reviewers for round %d\n", outcome.Round)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Round %d already has a review, nothing to do\n", outcome.Round)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&articleID, "article", "", "article id")
	cmd.Flags().IntVar(&round, "round", 2, "round to open")
	return cmd
}

func (a *app) remindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Email reviewers whose reviews are past deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := services.OpenRepository(a.settings, a.logger)
			if err != nil {
				return err
			}
			notifier := services.NewNotifier(a.settings, repo, a.logger)
			summary, err := services.NewDeadlineReminderJob(repo, notifier, a.logger).RunOnce(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Overdue: %d, sent: %d, failed: %d\n", summary.Overdue, summary.Sent, summary.Failed)
			if summary.Failed > 0 {
				return exitError{code: 2, err: fmt.Errorf("%d reminder(s) not delivered", summary.Failed)}
			}
			return nil
		},
	}
}

func (a *app) tokenCommand() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			repo, err := services.OpenRepository(a.settings, a.logger)
			if err != nil {
				return err
			}
			user, err := repo.FindUser(context.Background(), userID)
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken(a.settings.JWT.Secret, *user, ttl)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{
				"user_id": user.ID,
				"role":    user.Role,
			}).Info("token issued")
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
