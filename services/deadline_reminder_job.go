package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrReminderAlreadyRunning is returned when a reminder run overlaps another.
var ErrReminderAlreadyRunning = errors.New("deadline reminder already running")

// ReminderLockName is the database lock held for the duration of a run.
const ReminderLockName = "journal_review_deadline_reminder"

// ReminderSummary reports one reminder run.
type ReminderSummary struct {
	Overdue int
	Sent    int
	Failed  int
}

// DeadlineReminderJob emails reviewers whose open reviews are past their
// deadline. It never changes a review.
type DeadlineReminderJob struct {
	repo     ReviewRepository
	notifier Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
	running  chan struct{}
}

func NewDeadlineReminderJob(repo ReviewRepository, notifier Notifier, logger logrus.FieldLogger) *DeadlineReminderJob {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &DeadlineReminderJob{
		repo:     repo,
		notifier: notifier,
		logger:   logger.WithField("component", "deadline_reminder"),
		now:      time.Now,
		running:  make(chan struct{}, 1),
	}
}

// RunOnce sends one reminder per overdue review. When the repository is a
// JobLocker, only one process runs at a time.
func (j *DeadlineReminderJob) RunOnce(ctx context.Context) (*ReminderSummary, error) {
	select {
	case j.running <- struct{}{}:
		defer func() { <-j.running }()
	default:
		return nil, ErrReminderAlreadyRunning
	}

	if locker, ok := j.repo.(JobLocker); ok {
		release, acquired, err := locker.TryLock(ctx, ReminderLockName)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrReminderAlreadyRunning
		}
		defer func() {
			if err := release(); err != nil {
				j.logger.WithError(err).Warn("failed to release reminder lock")
			}
		}()
	}

	reviews, err := j.repo.ListOverdueReviews(ctx, j.now())
	if err != nil {
		return nil, fmt.Errorf("load overdue reviews: %w", err)
	}

	summary := &ReminderSummary{Overdue: len(reviews)}
	for _, review := range reviews {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := j.notifier.ReviewOverdue(ctx, review); err != nil {
			summary.Failed++
			j.logger.WithError(err).WithFields(logrus.Fields{
				"review_id":   review.ID,
				"reviewer_id": review.ReviewerID,
			}).Warn("reminder not delivered")
			continue
		}
		summary.Sent++
	}

	j.logger.WithFields(logrus.Fields{
		"overdue": summary.Overdue,
		"sent":    summary.Sent,
		"failed":  summary.Failed,
	}).Info("deadline reminder run finished")
	return summary, nil
}

// Run implements cron.Job.
func (j *DeadlineReminderJob) Run() {
	if _, err := j.RunOnce(context.Background()); err != nil {
		j.logger.WithError(err).Error("deadline reminder run failed")
	}
}

// NewReminderScheduler registers job on a seconds-precision cron schedule.
func NewReminderScheduler(schedule string, job *DeadlineReminderJob) (*cron.Cron, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	if _, err := c.AddJob(schedule, job); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", schedule, err)
	}
	return c, nil
}
