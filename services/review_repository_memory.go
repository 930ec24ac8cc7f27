package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"journal-review-api/models"

	"gopkg.in/yaml.v3"
)

// MemoryReviewRepository keeps users, articles, reviews and history in
// process memory. It backs DB_DRIVER=memory for local runs.
type MemoryReviewRepository struct {
	txMu sync.Mutex // serializes Atomic sections

	mu       sync.RWMutex
	users    map[string]models.User
	articles map[string]models.Article
	reviews  map[string]models.Review
	order    []string
	history  []models.ReviewHistory
	nextID   uint
}

func NewMemoryReviewRepository() *MemoryReviewRepository {
	return &MemoryReviewRepository{
		users:    make(map[string]models.User),
		articles: make(map[string]models.Article),
		reviews:  make(map[string]models.Review),
		nextID:   1,
	}
}

func (m *MemoryReviewRepository) AddUser(user models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MemoryReviewRepository) AddArticle(article models.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles[article.ID] = article
}

// AddReview stores a review as-is, bypassing the eligibility check.
func (m *MemoryReviewRepository) AddReview(review models.Review) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[review.ID]; !exists {
		m.order = append(m.order, review.ID)
	}
	m.reviews[review.ID] = review
}

// Reviews returns every stored review in insertion order.
func (m *MemoryReviewRepository) Reviews() []models.Review {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Review, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.reviews[id])
	}
	return out
}

// History returns every history entry in append order.
func (m *MemoryReviewRepository) History() []models.ReviewHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ReviewHistory(nil), m.history...)
}

func (m *MemoryReviewRepository) FindUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok || !user.Active() {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (m *MemoryReviewRepository) FindArticle(_ context.Context, id string) (*models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	article, ok := m.articles[id]
	if !ok {
		return nil, ErrArticleNotFound
	}
	return &article, nil
}

func (m *MemoryReviewRepository) FindReview(_ context.Context, id string) (*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	review, ok := m.reviews[id]
	if !ok {
		return nil, ErrReviewNotFound
	}
	return &review, nil
}

func (m *MemoryReviewRepository) CreateReview(_ context.Context, review *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[review.ID]; exists {
		return fmt.Errorf("create review: duplicate id %s", review.ID)
	}
	for _, existing := range m.reviews {
		if existing.ArticleID == review.ArticleID && existing.ReviewerID == review.ReviewerID {
			return ErrAlreadyAssigned
		}
	}
	now := time.Now()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}
	review.UpdatedAt = now
	m.reviews[review.ID] = *review
	m.order = append(m.order, review.ID)
	return nil
}

func (m *MemoryReviewRepository) SaveReview(_ context.Context, review *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[review.ID]; !exists {
		m.order = append(m.order, review.ID)
	}
	review.UpdatedAt = time.Now()
	m.reviews[review.ID] = *review
	return nil
}

func (m *MemoryReviewRepository) AppendHistory(_ context.Context, entry *models.ReviewHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID
	m.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.history = append(m.history, *entry)
	return nil
}

func (m *MemoryReviewRepository) ReviewerIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for id, user := range m.users {
		if user.Role == models.RoleReviewer && user.Active() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryReviewRepository) AssignedReviewerIDs(_ context.Context, articleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, id := range m.order {
		review := m.reviews[id]
		if review.ArticleID != articleID {
			continue
		}
		if _, dup := seen[review.ReviewerID]; dup {
			continue
		}
		seen[review.ReviewerID] = struct{}{}
		ids = append(ids, review.ReviewerID)
	}
	return ids, nil
}

func (m *MemoryReviewRepository) RoundExists(_ context.Context, articleID string, round int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, review := range m.reviews {
		if review.ArticleID == articleID && review.ReviewRound == round {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryReviewRepository) ListHistory(_ context.Context, articleID string) ([]models.ReviewHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]models.ReviewHistory, 0)
	for _, entry := range m.history {
		if entry.ArticleID == articleID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *MemoryReviewRepository) ListReviewsByReviewer(_ context.Context, reviewerID string) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reviews := make([]models.Review, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		review := m.reviews[m.order[i]]
		if review.ReviewerID != reviewerID {
			continue
		}
		if article, ok := m.articles[review.ArticleID]; ok {
			review.Article = &article
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

func (m *MemoryReviewRepository) ListOverdueReviews(_ context.Context, now time.Time) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reviews := make([]models.Review, 0)
	for _, id := range m.order {
		review := m.reviews[id]
		if !review.Overdue(now) {
			continue
		}
		if article, ok := m.articles[review.ArticleID]; ok {
			review.Article = &article
		}
		if user, ok := m.users[review.ReviewerID]; ok {
			review.Reviewer = &user
		}
		reviews = append(reviews, review)
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].Deadline.Before(*reviews[j].Deadline)
	})
	return reviews, nil
}

type memorySnapshot struct {
	reviews map[string]models.Review
	order   []string
	history []models.ReviewHistory
	nextID  uint
}

func (m *MemoryReviewRepository) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reviews := make(map[string]models.Review, len(m.reviews))
	for id, review := range m.reviews {
		reviews[id] = review
	}
	return memorySnapshot{
		reviews: reviews,
		order:   append([]string(nil), m.order...),
		history: append([]models.ReviewHistory(nil), m.history...),
		nextID:  m.nextID,
	}
}

func (m *MemoryReviewRepository) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = s.reviews
	m.order = s.order
	m.history = s.history
	m.nextID = s.nextID
}

func (m *MemoryReviewRepository) Atomic(ctx context.Context, articleID string, fn func(repo ReviewRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if _, err := m.FindArticle(ctx, articleID); err != nil {
		return err
	}

	saved := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

// MemorySeed is the YAML document accepted by SeedFromYAML.
type MemorySeed struct {
	Users    []seedUser    `yaml:"users"`
	Articles []seedArticle `yaml:"articles"`
	Reviews  []seedReview  `yaml:"reviews"`
}

type seedUser struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

type seedArticle struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Authors  string `yaml:"authors"`
	Category string `yaml:"category"`
	Status   string `yaml:"status"`
	AuthorID string `yaml:"author_id"`
}

type seedReview struct {
	ID         string     `yaml:"id"`
	ArticleID  string     `yaml:"article_id"`
	ReviewerID string     `yaml:"reviewer_id"`
	Round      int        `yaml:"round"`
	Status     string     `yaml:"status"`
	Deadline   *time.Time `yaml:"deadline"`
}

// SeedFromYAML loads users, articles and reviews from r.
func (m *MemoryReviewRepository) SeedFromYAML(r io.Reader) error {
	var seed MemorySeed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode seed: %w", err)
	}

	now := time.Now()
	for _, u := range seed.Users {
		role, ok := models.ParseRole(u.Role)
		if !ok || u.ID == "" {
			return fmt.Errorf("seed user %q: invalid role %q", u.ID, u.Role)
		}
		m.AddUser(models.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: role, CreatedAt: now, UpdatedAt: now})
	}
	for _, a := range seed.Articles {
		status := models.ArticleStatus(a.Status)
		if status == "" {
			status = models.ArticleSubmitted
		}
		m.AddArticle(models.Article{
			ID:        a.ID,
			Title:     a.Title,
			Authors:   a.Authors,
			Category:  a.Category,
			Status:    status,
			AuthorID:  a.AuthorID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	for _, rv := range seed.Reviews {
		status, ok := models.ParseReviewStatus(rv.Status)
		if !ok {
			status = models.ReviewAssigned
		}
		round := rv.Round
		if round < 1 {
			round = 1
		}
		m.AddReview(models.Review{
			ID:          rv.ID,
			ArticleID:   rv.ArticleID,
			ReviewerID:  rv.ReviewerID,
			ReviewRound: round,
			Status:      status,
			Deadline:    rv.Deadline,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return nil
}
