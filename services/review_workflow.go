package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"journal-review-api/authz"
	"journal-review-api/models"
	"journal-review-api/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxReviewRounds = 3
	DefaultReviewDeadline  = 14 * 24 * time.Hour

	minScore = 1
	maxScore = 5
)

// ReviewerPicker chooses one reviewer id from a non-empty candidate list.
type ReviewerPicker func(candidates []string) string

// RandomReviewerPicker picks uniformly at random.
func RandomReviewerPicker(candidates []string) string {
	return candidates[rand.Intn(len(candidates))]
}

// ReviewWorkflow drives reviews through submission, status changes and
// next-round assignment, appending one history entry per mutation.
type ReviewWorkflow struct {
	repo      ReviewRepository
	pick      ReviewerPicker
	notifier  Notifier
	metrics   *WorkflowMetrics
	logger    logrus.FieldLogger
	now       func() time.Time
	maxRounds int
	deadline  time.Duration
}

type WorkflowOption func(*ReviewWorkflow)

func WithReviewerPicker(pick ReviewerPicker) WorkflowOption {
	return func(w *ReviewWorkflow) { w.pick = pick }
}

func WithNotifier(n Notifier) WorkflowOption {
	return func(w *ReviewWorkflow) { w.notifier = n }
}

func WithMetrics(m *WorkflowMetrics) WorkflowOption {
	return func(w *ReviewWorkflow) { w.metrics = m }
}

func WithLogger(logger logrus.FieldLogger) WorkflowOption {
	return func(w *ReviewWorkflow) { w.logger = logger }
}

func WithClock(now func() time.Time) WorkflowOption {
	return func(w *ReviewWorkflow) { w.now = now }
}

// WithMaxRounds sets the highest round that may be opened.
func WithMaxRounds(n int) WorkflowOption {
	return func(w *ReviewWorkflow) {
		if n > 0 {
			w.maxRounds = n
		}
	}
}

// WithReviewDeadline sets how long a reviewer has from assignment.
func WithReviewDeadline(d time.Duration) WorkflowOption {
	return func(w *ReviewWorkflow) {
		if d > 0 {
			w.deadline = d
		}
	}
}

func NewReviewWorkflow(repo ReviewRepository, opts ...WorkflowOption) *ReviewWorkflow {
	w := &ReviewWorkflow{
		repo:      repo,
		pick:      RandomReviewerPicker,
		now:       time.Now,
		maxRounds: DefaultMaxReviewRounds,
		deadline:  DefaultReviewDeadline,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logrus.StandardLogger()
	}
	w.logger = w.logger.WithField("component", "review_workflow")
	if w.notifier == nil {
		w.notifier = LogNotifier{Logger: w.logger}
	}
	return w
}

// SubmitReviewInput is a reviewer's final evaluation. Score is nil when the
// caller did not send one.
type SubmitReviewInput struct {
	ReviewID             string
	Score                *int
	Recommendation       string
	Comments             string
	ConfidentialComments *string
}

// EscalationOutcome describes one next-round assignment attempt.
type EscalationOutcome struct {
	Outcome string         `json:"outcome"`
	Round   int            `json:"round"`
	Review  *models.Review `json:"review,omitempty"`
}

// SubmitReviewResult carries the stored review and, when the accept rule
// fired, the escalation outcome. EscalationErr reports a failed escalation;
// the submission itself has still been committed.
type SubmitReviewResult struct {
	Review        models.Review
	Escalation    *EscalationOutcome
	EscalationErr error
}

// SubmitReview records a completed evaluation. An accept below the round cap
// opens the next round with a newly selected reviewer.
func (w *ReviewWorkflow) SubmitReview(ctx context.Context, actor authz.Principal, in SubmitReviewInput) (*SubmitReviewResult, error) {
	if !actor.Can(authz.SubmitReview) {
		return nil, ErrForbidden
	}

	reviewID := strings.TrimSpace(in.ReviewID)
	comments := utils.SanitizeInput(in.Comments)
	if reviewID == "" || in.Score == nil || strings.TrimSpace(in.Recommendation) == "" || comments == "" {
		return nil, ErrMissingParameters
	}

	recommendation, ok := models.ParseRecommendation(in.Recommendation)
	if !ok {
		return nil, fmt.Errorf("%w: recommendation %q", ErrInvalidParameter, in.Recommendation)
	}
	score := *in.Score
	if score < minScore || score > maxScore {
		return nil, fmt.Errorf("%w: score %d", ErrInvalidParameter, score)
	}

	var confidential *string
	if in.ConfidentialComments != nil {
		if text := utils.SanitizeInput(*in.ConfidentialComments); text != "" {
			confidential = &text
		}
	}

	existing, err := w.repo.FindReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(existing.ReviewerID) {
		return nil, ErrForbidden
	}

	var stored models.Review
	err = w.repo.Atomic(ctx, existing.ArticleID, func(repo ReviewRepository) error {
		review, err := repo.FindReview(ctx, reviewID)
		if err != nil {
			return err
		}

		now := w.now()
		review.Score = &score
		review.Recommendation = recommendation
		review.Comments = &comments
		review.ConfidentialComments = confidential
		review.Status = models.ReviewCompleted
		review.SubmittedAt = &now
		if err := repo.SaveReview(ctx, review); err != nil {
			return err
		}

		entry := w.historyEntry(review.ArticleID, &review.ReviewerID, actor.ActorID(), models.ActionReviewCompleted,
			fmt.Sprintf("完成第%d轮审稿", review.ReviewRound),
			map[string]interface{}{
				"score":          score,
				"recommendation": recommendation,
				"comments":       comments,
				"round":          review.ReviewRound,
			})
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return err
		}

		stored = *review
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit review %s: %w", reviewID, err)
	}

	w.metrics.observeSubmission(string(recommendation))
	w.logger.WithFields(logrus.Fields{
		"review_id":      stored.ID,
		"article_id":     stored.ArticleID,
		"round":          stored.ReviewRound,
		"recommendation": recommendation,
	}).Info("review submitted")

	result := &SubmitReviewResult{Review: stored}
	if recommendation == models.RecommendAccept && stored.ReviewRound < w.maxRounds {
		result.Escalation, result.EscalationErr = w.AssignNextRound(ctx, stored.ArticleID, stored.ReviewRound+1)
		if result.EscalationErr != nil {
			w.logger.WithError(result.EscalationErr).WithFields(logrus.Fields{
				"review_id":  stored.ID,
				"article_id": stored.ArticleID,
				"round":      stored.ReviewRound + 1,
			}).Error("next round assignment failed")
		}
	}

	return result, nil
}

// AssignNextRound selects a reviewer who holds no review of the article yet
// and opens round for them. When nobody is eligible it records
// no_available_reviewers instead. A round that already has a review is left
// untouched.
func (w *ReviewWorkflow) AssignNextRound(ctx context.Context, articleID string, round int) (*EscalationOutcome, error) {
	if round < 1 || round > w.maxRounds {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrRoundOutOfRange, round, w.maxRounds)
	}

	outcome := &EscalationOutcome{Round: round}
	err := w.repo.Atomic(ctx, articleID, func(repo ReviewRepository) error {
		open, err := repo.RoundExists(ctx, articleID, round)
		if err != nil {
			return err
		}
		if open {
			outcome.Outcome = EscalationSkipped
			return nil
		}

		reviewers, err := repo.ReviewerIDs(ctx)
		if err != nil {
			return err
		}
		assigned, err := repo.AssignedReviewerIDs(ctx, articleID)
		if err != nil {
			return err
		}
		available := eligibleReviewers(reviewers, assigned)

		if len(available) == 0 {
			outcome.Outcome = EscalationExhausted
			entry := w.historyEntry(articleID, nil, nil, models.ActionNoAvailableReviewers,
				fmt.Sprintf("没有可用的审稿人进行第%d轮审稿", round),
				map[string]interface{}{"round": round})
			return repo.AppendHistory(ctx, entry)
		}

		reviewerID := w.pick(available)
		review, err := w.openReview(ctx, repo, articleID, reviewerID, round, nil)
		if err != nil {
			return err
		}

		entry := w.historyEntry(articleID, &reviewerID, nil, models.ActionAutoAssignedNextRound,
			fmt.Sprintf("自动分配第%d轮审稿人", round),
			map[string]interface{}{
				"round":      round,
				"reviewId":   review.ID,
				"reviewerId": reviewerID,
				"deadline":   review.Deadline,
			})
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return err
		}

		outcome.Outcome = EscalationAssigned
		outcome.Review = review
		return nil
	})
	if err != nil {
		w.metrics.observeEscalation(EscalationFailed)
		return nil, fmt.Errorf("assign round %d for article %s: %w", round, articleID, err)
	}

	w.metrics.observeEscalation(outcome.Outcome)
	log := w.logger.WithFields(logrus.Fields{"article_id": articleID, "round": round})
	switch outcome.Outcome {
	case EscalationAssigned:
		log.WithField("reviewer_id", outcome.Review.ReviewerID).Info("next round reviewer assigned")
		w.notifier.ReviewerAssigned(ctx, *outcome.Review)
	case EscalationExhausted:
		log.Warn("no available reviewers for next round")
	case EscalationSkipped:
		log.Info("round already open, assignment skipped")
	}
	return outcome, nil
}

// UpdateReviewStatus sets a review's status directly. It never cascades.
func (w *ReviewWorkflow) UpdateReviewStatus(ctx context.Context, actor authz.Principal, reviewID, rawStatus string) (*models.Review, error) {
	if !actor.Can(authz.UpdateReviewStatus) {
		return nil, ErrForbidden
	}

	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" || strings.TrimSpace(rawStatus) == "" {
		return nil, ErrMissingParameters
	}
	status, ok := models.ParseReviewStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidParameter, rawStatus)
	}

	existing, err := w.repo.FindReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(existing.ReviewerID) {
		return nil, ErrForbidden
	}

	var stored models.Review
	err = w.repo.Atomic(ctx, existing.ArticleID, func(repo ReviewRepository) error {
		review, err := repo.FindReview(ctx, reviewID)
		if err != nil {
			return err
		}

		previous := review.Status
		review.Status = status
		if err := repo.SaveReview(ctx, review); err != nil {
			return err
		}

		entry := w.historyEntry(review.ArticleID, &review.ReviewerID, actor.ActorID(), models.ActionStatusChanged(status),
			fmt.Sprintf("审稿状态由%s更新为%s", previous, status),
			map[string]interface{}{
				"from":  previous,
				"to":    status,
				"round": review.ReviewRound,
			})
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return err
		}

		stored = *review
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update review %s status: %w", reviewID, err)
	}

	w.metrics.observeStatusChange(string(status))
	w.logger.WithFields(logrus.Fields{
		"review_id":  stored.ID,
		"article_id": stored.ArticleID,
		"status":     status,
	}).Info("review status updated")
	return &stored, nil
}

// AssignReviewerInput is an editor's manual assignment. Round defaults to 1
// and Deadline to the configured review period.
type AssignReviewerInput struct {
	ArticleID  string
	ReviewerID string
	Round      int
	Deadline   *time.Time
}

// AssignReviewer opens a review for a reviewer chosen by an editor.
func (w *ReviewWorkflow) AssignReviewer(ctx context.Context, actor authz.Principal, in AssignReviewerInput) (*models.Review, error) {
	if !actor.Can(authz.AssignReviewer) {
		return nil, ErrForbidden
	}

	articleID := strings.TrimSpace(in.ArticleID)
	reviewerID := strings.TrimSpace(in.ReviewerID)
	if articleID == "" || reviewerID == "" {
		return nil, ErrMissingParameters
	}
	round := in.Round
	if round == 0 {
		round = 1
	}
	if round < 1 || round > w.maxRounds {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrRoundOutOfRange, round, w.maxRounds)
	}

	reviewer, err := w.repo.FindUser(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	if reviewer.Role != models.RoleReviewer {
		return nil, ErrNotReviewer
	}

	var created *models.Review
	err = w.repo.Atomic(ctx, articleID, func(repo ReviewRepository) error {
		assigned, err := repo.AssignedReviewerIDs(ctx, articleID)
		if err != nil {
			return err
		}
		for _, id := range assigned {
			if id == reviewerID {
				return ErrAlreadyAssigned
			}
		}

		review, err := w.openReview(ctx, repo, articleID, reviewerID, round, in.Deadline)
		if err != nil {
			return err
		}

		entry := w.historyEntry(articleID, &reviewerID, actor.ActorID(), models.ActionReviewerAssigned,
			fmt.Sprintf("编辑分配第%d轮审稿人", round),
			map[string]interface{}{
				"round":    round,
				"reviewId": review.ID,
				"deadline": review.Deadline,
			})
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return err
		}
		created = review
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign reviewer %s to article %s: %w", reviewerID, articleID, err)
	}

	w.logger.WithFields(logrus.Fields{
		"article_id":  articleID,
		"reviewer_id": reviewerID,
		"round":       round,
	}).Info("reviewer assigned by editor")
	w.notifier.ReviewerAssigned(ctx, *created)
	return created, nil
}

// ArticleHistory lists the review history of an article, oldest first.
func (w *ReviewWorkflow) ArticleHistory(ctx context.Context, actor authz.Principal, articleID string) ([]models.ReviewHistory, error) {
	if !actor.Can(authz.ViewReviewHistory) {
		return nil, ErrForbidden
	}
	if _, err := w.repo.FindArticle(ctx, articleID); err != nil {
		return nil, err
	}
	return w.repo.ListHistory(ctx, articleID)
}

// ReviewerQueue lists the caller's own reviews, newest first.
func (w *ReviewWorkflow) ReviewerQueue(ctx context.Context, actor authz.Principal) ([]models.Review, error) {
	if !actor.Can(authz.ListOwnReviews) {
		return nil, ErrForbidden
	}
	return w.repo.ListReviewsByReviewer(ctx, actor.UserID)
}

func (w *ReviewWorkflow) openReview(ctx context.Context, repo ReviewRepository, articleID, reviewerID string, round int, deadline *time.Time) (*models.Review, error) {
	now := w.now()
	if deadline == nil {
		due := now.Add(w.deadline)
		deadline = &due
	}
	review := &models.Review{
		ID:          uuid.NewString(),
		ArticleID:   articleID,
		ReviewerID:  reviewerID,
		ReviewRound: round,
		Status:      models.ReviewAssigned,
		Deadline:    deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

func (w *ReviewWorkflow) historyEntry(articleID string, reviewerID, actorID *string, action, comments string, metadata map[string]interface{}) *models.ReviewHistory {
	entry := &models.ReviewHistory{
		ArticleID:  articleID,
		ReviewerID: reviewerID,
		ActorID:    actorID,
		Action:     action,
		Comments:   comments,
		CreatedAt:  w.now(),
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}

// eligibleReviewers returns reviewers minus assigned, keeping reviewers' order.
func eligibleReviewers(reviewers, assigned []string) []string {
	taken := make(map[string]struct{}, len(assigned))
	for _, id := range assigned {
		taken[id] = struct{}{}
	}
	available := make([]string, 0, len(reviewers))
	for _, id := range reviewers {
		if _, ok := taken[id]; ok {
			continue
		}
		available = append(available, id)
	}
	return available
}
