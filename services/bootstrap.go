package services

import (
	"fmt"
	"os"
	"time"

	"journal-review-api/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// OpenRepository returns the repository selected by DB_DRIVER.
func OpenRepository(settings *config.Settings, logger logrus.FieldLogger) (ReviewRepository, error) {
	switch settings.Database.Driver {
	case "", "mysql":
		db, err := config.InitDB(settings)
		if err != nil {
			return nil, err
		}
		return NewGormReviewRepository(db), nil
	case "memory":
		repo := NewMemoryReviewRepository()
		if path := settings.Database.SeedFile; path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := repo.SeedFromYAML(f); err != nil {
				return nil, err
			}
			logger.WithField("seed_file", path).Info("in-memory repository seeded")
		}
		logger.Warn("using in-memory repository; data is lost on exit")
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", settings.Database.Driver)
	}
}

// NewNotifier mails through SMTP when configured and only logs otherwise.
func NewNotifier(settings *config.Settings, repo ReviewRepository, logger logrus.FieldLogger) Notifier {
	mailer := config.NewMailer(settings.SMTP)
	if !mailer.Configured() {
		logger.Warn("SMTP not configured, reviewer notifications are logged only")
		return LogNotifier{Logger: logger}
	}
	return NewMailNotifier(mailer, repo, logger)
}

// NewWorkflowFromSettings wires a ReviewWorkflow with the configured limits.
func NewWorkflowFromSettings(settings *config.Settings, repo ReviewRepository, notifier Notifier, reg prometheus.Registerer, logger logrus.FieldLogger) *ReviewWorkflow {
	return NewReviewWorkflow(repo,
		WithNotifier(notifier),
		WithMetrics(NewWorkflowMetrics(reg)),
		WithLogger(logger),
		WithMaxRounds(settings.Review.MaxRounds),
		WithReviewDeadline(time.Duration(settings.Review.DeadlineDays)*24*time.Hour),
	)
}
