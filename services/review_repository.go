package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"journal-review-api/config"
	"journal-review-api/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReviewRepository is the persistence surface of the review workflow.
type ReviewRepository interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
	FindArticle(ctx context.Context, id string) (*models.Article, error)
	FindReview(ctx context.Context, id string) (*models.Review, error)
	CreateReview(ctx context.Context, review *models.Review) error
	SaveReview(ctx context.Context, review *models.Review) error
	AppendHistory(ctx context.Context, entry *models.ReviewHistory) error

	// ReviewerIDs lists active users holding the reviewer role.
	ReviewerIDs(ctx context.Context) ([]string, error)
	// AssignedReviewerIDs lists reviewers holding a review of the article in any round.
	AssignedReviewerIDs(ctx context.Context, articleID string) ([]string, error)
	RoundExists(ctx context.Context, articleID string, round int) (bool, error)

	ListHistory(ctx context.Context, articleID string) ([]models.ReviewHistory, error)
	ListReviewsByReviewer(ctx context.Context, reviewerID string) ([]models.Review, error)
	ListOverdueReviews(ctx context.Context, now time.Time) ([]models.Review, error)

	// Atomic runs fn in one transaction holding a row lock on the article.
	// Writes made through the repository passed to fn are rolled back when
	// fn returns an error.
	Atomic(ctx context.Context, articleID string, fn func(repo ReviewRepository) error) error
}

// GormReviewRepository implements ReviewRepository on MySQL through gorm.
type GormReviewRepository struct {
	db *gorm.DB
}

func NewGormReviewRepository(db *gorm.DB) *GormReviewRepository {
	if db == nil {
		db = config.DB
	}
	return &GormReviewRepository{db: db}
}

func (r *GormReviewRepository) FindUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &user, nil
}

func (r *GormReviewRepository) FindArticle(ctx context.Context, id string) (*models.Article, error) {
	var article models.Article
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&article).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("load article %s: %w", id, err)
	}
	return &article, nil
}

func (r *GormReviewRepository) FindReview(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&review).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("load review %s: %w", id, err)
	}
	return &review, nil
}

func (r *GormReviewRepository) CreateReview(ctx context.Context, review *models.Review) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(review).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyAssigned
		}
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (r *GormReviewRepository) SaveReview(ctx context.Context, review *models.Review) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(review).Error; err != nil {
		return fmt.Errorf("save review %s: %w", review.ID, err)
	}
	return nil
}

func (r *GormReviewRepository) AppendHistory(ctx context.Context, entry *models.ReviewHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append history %s: %w", entry.Action, err)
	}
	return nil
}

func (r *GormReviewRepository) ReviewerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND deleted_at IS NULL", string(models.RoleReviewer)).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	return ids, nil
}

func (r *GormReviewRepository) AssignedReviewerIDs(ctx context.Context, articleID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Review{}).
		Where("article_id = ?", articleID).
		Distinct().
		Pluck("reviewer_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list assigned reviewers: %w", err)
	}
	return ids, nil
}

func (r *GormReviewRepository) RoundExists(ctx context.Context, articleID string, round int) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Review{}).
		Where("article_id = ? AND review_round = ?", articleID, round).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count round %d reviews: %w", round, err)
	}
	return count > 0, nil
}

func (r *GormReviewRepository) ListHistory(ctx context.Context, articleID string) ([]models.ReviewHistory, error) {
	var entries []models.ReviewHistory
	if err := r.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (r *GormReviewRepository) ListReviewsByReviewer(ctx context.Context, reviewerID string) ([]models.Review, error) {
	var reviews []models.Review
	if err := r.db.WithContext(ctx).
		Preload("Article").
		Where("reviewer_id = ?", reviewerID).
		Order("created_at DESC").
		Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (r *GormReviewRepository) ListOverdueReviews(ctx context.Context, now time.Time) ([]models.Review, error) {
	var reviews []models.Review
	if err := r.db.WithContext(ctx).
		Preload("Article").
		Preload("Reviewer").
		Where("status IN ? AND deadline IS NOT NULL AND deadline < ?",
			[]string{string(models.ReviewAssigned), string(models.ReviewInProgress)}, now).
		Order("deadline ASC").
		Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("list overdue reviews: %w", err)
	}
	return reviews, nil
}

func (r *GormReviewRepository) Atomic(ctx context.Context, articleID string, fn func(repo ReviewRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", articleID).
			First(&article).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrArticleNotFound
			}
			return fmt.Errorf("lock article %s: %w", articleID, err)
		}
		return fn(&GormReviewRepository{db: tx})
	})
}
