package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"journal-review-api/config"
	"journal-review-api/models"

	"github.com/cenkalti/backoff/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reminderFixture(t *testing.T) (*MemoryReviewRepository, *recordingNotifier, *DeadlineReminderJob) {
	t.Helper()

	repo := NewMemoryReviewRepository()
	repo.AddArticle(models.Article{ID: "A1", Title: "Graph Sparsifiers"})
	repo.AddUser(models.User{ID: "R1", Email: "r1@example.org", Role: models.RoleReviewer})
	repo.AddUser(models.User{ID: "R2", Email: "r2@example.org", Role: models.RoleReviewer})
	repo.AddUser(models.User{ID: "R3", Email: "r3@example.org", Role: models.RoleReviewer})

	past := fixedNow.Add(-48 * time.Hour)
	future := fixedNow.Add(48 * time.Hour)
	repo.AddReview(models.Review{ID: "late", ArticleID: "A1", ReviewerID: "R1", ReviewRound: 1, Status: models.ReviewInProgress, Deadline: &past})
	repo.AddReview(models.Review{ID: "done", ArticleID: "A1", ReviewerID: "R2", ReviewRound: 1, Status: models.ReviewCompleted, Deadline: &past})
	repo.AddReview(models.Review{ID: "on-time", ArticleID: "A1", ReviewerID: "R3", ReviewRound: 2, Status: models.ReviewAssigned, Deadline: &future})

	notifier := &recordingNotifier{}
	job := NewDeadlineReminderJob(repo, notifier, nil)
	job.now = func() time.Time { return fixedNow }
	return repo, notifier, job
}

func TestDeadlineReminderJobRemindsOpenOverdueReviews(t *testing.T) {
	repo, notifier, job := reminderFixture(t)

	summary, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReminderSummary{Overdue: 1, Sent: 1}, *summary)

	require.Len(t, notifier.overdue, 1)
	assert.Equal(t, "late", notifier.overdue[0].ID)
	require.NotNil(t, notifier.overdue[0].Reviewer)
	assert.Equal(t, "r1@example.org", notifier.overdue[0].Reviewer.Email)

	// Reminders never touch the review itself.
	review, err := repo.FindReview(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewInProgress, review.Status)
	assert.Empty(t, repo.History())
}

func TestDeadlineReminderJobCountsFailures(t *testing.T) {
	_, notifier, job := reminderFixture(t)
	notifier.err = errors.New("smtp down")

	summary, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Sent)
}

func TestDeadlineReminderJobRejectsOverlappingRuns(t *testing.T) {
	_, _, job := reminderFixture(t)
	job.running <- struct{}{}

	_, err := job.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrReminderAlreadyRunning)
}

func TestNewReminderSchedulerValidatesSchedule(t *testing.T) {
	_, _, job := reminderFixture(t)

	c, err := NewReminderScheduler("0 0 8 * * *", job)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = NewReminderScheduler("every morning", job)
	assert.Error(t, err)
}

type flakySender struct {
	failures int
	err      error
	calls    int
	to       []string
	subject  string
	html     string
}

func (s *flakySender) SendMail(to []string, subject, html string) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.to, s.subject, s.html = to, subject, html
	return nil
}

func newTestMailNotifier(sender MailSender, repo ReviewRepository) *MailNotifier {
	n := NewMailNotifier(sender, repo, nil)
	n.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return n
}

func TestMailNotifierRetriesTransientFailures(t *testing.T) {
	repo, _, _ := reminderFixture(t)
	sender := &flakySender{failures: 2, err: errors.New("421 try again")}
	notifier := newTestMailNotifier(sender, repo)

	review, err := repo.FindReview(context.Background(), "late")
	require.NoError(t, err)

	require.NoError(t, notifier.ReviewOverdue(context.Background(), *review))
	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, []string{"r1@example.org"}, sender.to)
	assert.Equal(t, "审稿提醒：Graph Sparsifiers", sender.subject)
	assert.True(t, strings.Contains(sender.html, "第一轮审稿已超过截止日期"))
}

func TestMailNotifierDoesNotRetryUnconfiguredMailer(t *testing.T) {
	repo, _, _ := reminderFixture(t)
	sender := &flakySender{failures: 10, err: config.ErrMailerNotConfigured}
	notifier := newTestMailNotifier(sender, repo)

	review, err := repo.FindReview(context.Background(), "late")
	require.NoError(t, err)

	err = notifier.ReviewOverdue(context.Background(), *review)
	assert.ErrorIs(t, err, config.ErrMailerNotConfigured)
	assert.Equal(t, 1, sender.calls)
}

type gatedSender struct {
	release chan struct{}
	calls   int
	subject string
}

func (s *gatedSender) SendMail(to []string, subject, html string) error {
	<-s.release
	s.calls++
	s.subject = subject
	return nil
}

func TestMailNotifierWaitBlocksUntilAssignmentEmailSent(t *testing.T) {
	repo, _, _ := reminderFixture(t)
	sender := &gatedSender{release: make(chan struct{})}
	notifier := newTestMailNotifier(sender, repo)

	review, err := repo.FindReview(context.Background(), "late")
	require.NoError(t, err)
	notifier.ReviewerAssigned(context.Background(), *review)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, notifier.Wait(ctx), context.DeadlineExceeded)

	close(sender.release)
	require.NoError(t, WaitForNotifications(context.Background(), notifier))
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "审稿邀请：Graph Sparsifiers", sender.subject)
}

func TestWaitForNotificationsIgnoresSynchronousNotifiers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, WaitForNotifications(ctx, LogNotifier{}))
}

func TestBuildReviewEmailHTMLEscapesContent(t *testing.T) {
	html := buildReviewEmailHTML("审稿提醒", "", "<script>x</script>\n第二行")

	assert.Contains(t, html, "尊敬的审稿人：")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "<br/>第二行")
	assert.NotContains(t, html, "<script>")
}

type lockingRepo struct {
	*MemoryReviewRepository
	held     bool
	released int
}

func (l *lockingRepo) TryLock(_ context.Context, name string) (func() error, bool, error) {
	if name != ReminderLockName {
		return nil, false, errors.New("unexpected lock name " + name)
	}
	if l.held {
		return nil, false, nil
	}
	return func() error {
		l.released++
		return nil
	}, true, nil
}

func TestDeadlineReminderJobHoldsDatabaseLock(t *testing.T) {
	repo, notifier, _ := reminderFixture(t)
	locked := &lockingRepo{MemoryReviewRepository: repo}
	job := NewDeadlineReminderJob(locked, notifier, nil)
	job.now = func() time.Time { return fixedNow }

	summary, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, locked.released)

	locked.held = true
	_, err = job.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrReminderAlreadyRunning)
	assert.Len(t, notifier.overdue, 1)
}
