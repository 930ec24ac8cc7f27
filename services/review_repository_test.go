package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"journal-review-api/models"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type stepKind int

const (
	kindQuery stepKind = iota
	kindExec
)

// queryStep is one expected statement. A nil args slice matches any
// arguments.
type queryStep struct {
	kind    stepKind
	pattern *regexp.Regexp
	args    []driver.Value
	columns []string
	rows    [][]driver.Value
	err     error
	result  driver.Result
}

type scriptedDB struct {
	mu        sync.Mutex
	steps     []*queryStep
	begins    int
	commits   int
	rollbacks int
}

func (db *scriptedDB) next(kind stepKind, query string, args []driver.NamedValue) (*queryStep, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.steps) == 0 {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	step := db.steps[0]
	if step.kind != kind {
		return nil, fmt.Errorf("unexpected kind for query %s: got %v want %v", query, kind, step.kind)
	}
	if !step.pattern.MatchString(query) {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	if step.args != nil {
		if len(step.args) != len(args) {
			return nil, fmt.Errorf("unexpected arg count for %s: got %d want %d", query, len(args), len(step.args))
		}
		for i := range args {
			if args[i].Value != step.args[i] {
				return nil, fmt.Errorf("unexpected arg %d for %s: got %v want %v", i, query, args[i].Value, step.args[i])
			}
		}
	}
	db.steps = db.steps[1:]
	return step, nil
}

func (db *scriptedDB) verifyComplete() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.steps) != 0 {
		return fmt.Errorf("unmet expectations: %d", len(db.steps))
	}
	return nil
}

type scriptedDriver struct {
	db *scriptedDB
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) {
	return &scriptedConn{db: d.db}, nil
}

type scriptedConn struct {
	db *scriptedDB
}

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.begins++
	return scriptedTx{db: c.db}, nil
}

func (c *scriptedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.db.next(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if step.err != nil {
		return nil, step.err
	}
	return &scriptedRows{columns: step.columns, rows: step.rows}, nil
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.db.next(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.result != nil {
		return step.result, nil
	}
	return scriptedResult{rowsAffected: 1}, nil
}

type scriptedTx struct {
	db *scriptedDB
}

func (tx scriptedTx) Commit() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.commits++
	return nil
}

func (tx scriptedTx) Rollback() error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.rollbacks++
	return nil
}

type scriptedResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r scriptedResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }

func (r scriptedResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type scriptedRows struct {
	columns []string
	rows    [][]driver.Value
	idx     int
}

func (r *scriptedRows) Columns() []string { return r.columns }

func (r *scriptedRows) Close() error { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.idx]
	for i := range dest {
		dest[i] = nil
	}
	for i := range row {
		dest[i] = row[i]
	}
	r.idx++
	return nil
}

func newScriptedGormDB(t *testing.T, steps []*queryStep) (*gorm.DB, *scriptedDB) {
	t.Helper()
	state := &scriptedDB{steps: steps}
	driverName := fmt.Sprintf("scripted_%d", time.Now().UnixNano())
	sql.Register(driverName, &scriptedDriver{db: state})

	sqlDB, err := sql.Open(driverName, "")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return gormDB, state
}

func TestGormReviewerIDsListsActiveReviewers(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: regexp.MustCompile("SELECT `id` FROM `users` WHERE role = \\? AND deleted_at IS NULL ORDER BY id"),
			args:    []driver.Value{"reviewer"},
			columns: []string{"id"},
			rows:    [][]driver.Value{{"R1"}, {"R2"}},
		},
	})

	ids, err := NewGormReviewRepository(db).ReviewerIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, ids)
	require.NoError(t, state.verifyComplete())
}

func TestGormAssignedReviewerIDsIsDistinctPerArticle(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: regexp.MustCompile("SELECT DISTINCT `reviewer_id` FROM `reviews` WHERE article_id = \\?"),
			args:    []driver.Value{"A1"},
			columns: []string{"reviewer_id"},
			rows:    [][]driver.Value{{"R1"}, {"R3"}},
		},
	})

	ids, err := NewGormReviewRepository(db).AssignedReviewerIDs(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R3"}, ids)
	require.NoError(t, state.verifyComplete())
}

func TestGormRoundExists(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: regexp.MustCompile("SELECT count\\(\\*\\) FROM `reviews` WHERE article_id = \\? AND review_round = \\?"),
			args:    []driver.Value{"A1", int64(2)},
			columns: []string{"count(*)"},
			rows:    [][]driver.Value{{int64(1)}},
		},
		{
			pattern: regexp.MustCompile("SELECT count\\(\\*\\) FROM `reviews`"),
			args:    []driver.Value{"A1", int64(3)},
			columns: []string{"count(*)"},
			rows:    [][]driver.Value{{int64(0)}},
		},
	})
	repo := NewGormReviewRepository(db)

	open, err := repo.RoundExists(context.Background(), "A1", 2)
	require.NoError(t, err)
	assert.True(t, open)

	open, err = repo.RoundExists(context.Background(), "A1", 3)
	require.NoError(t, err)
	assert.False(t, open)
	require.NoError(t, state.verifyComplete())
}

func TestGormFindReviewNotFound(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: regexp.MustCompile("SELECT \\* FROM `reviews` WHERE id = \\?"),
			columns: []string{"id"},
			rows:    [][]driver.Value{},
		},
	})

	_, err := NewGormReviewRepository(db).FindReview(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrReviewNotFound)
	require.NoError(t, state.verifyComplete())
}

func TestGormCreateReviewTranslatesDuplicateKey(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			kind:    kindExec,
			pattern: regexp.MustCompile("INSERT INTO `reviews`"),
			err:     &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'A1-R1' for key 'idx_reviews_article_reviewer'"},
		},
	})

	err := NewGormReviewRepository(db).CreateReview(context.Background(), &models.Review{
		ID:          "rv9",
		ArticleID:   "A1",
		ReviewerID:  "R1",
		ReviewRound: 2,
		Status:      models.ReviewAssigned,
	})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	require.NoError(t, state.verifyComplete())
}

var lockArticlePattern = regexp.MustCompile("SELECT `id` FROM `articles` WHERE id = \\?.*FOR UPDATE")

func TestGormAtomicLocksArticleAndCommits(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: lockArticlePattern,
			columns: []string{"id"},
			rows:    [][]driver.Value{{"A1"}},
		},
	})

	called := false
	err := NewGormReviewRepository(db).Atomic(context.Background(), "A1", func(repo ReviewRepository) error {
		called = true
		assert.IsType(t, &GormReviewRepository{}, repo)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, state.begins)
	assert.Equal(t, 1, state.commits)
	assert.Equal(t, 0, state.rollbacks)
	require.NoError(t, state.verifyComplete())
}

func TestGormAtomicRollsBackOnError(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: lockArticlePattern,
			columns: []string{"id"},
			rows:    [][]driver.Value{{"A1"}},
		},
	})

	boom := errors.New("boom")
	err := NewGormReviewRepository(db).Atomic(context.Background(), "A1", func(ReviewRepository) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, state.commits)
	assert.Equal(t, 1, state.rollbacks)
}

func TestGormAtomicUnknownArticle(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: lockArticlePattern,
			columns: []string{"id"},
			rows:    [][]driver.Value{},
		},
	})

	called := false
	err := NewGormReviewRepository(db).Atomic(context.Background(), "missing", func(ReviewRepository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrArticleNotFound)
	assert.False(t, called)
	assert.Equal(t, 1, state.rollbacks)
}

func TestGormTryLock(t *testing.T) {
	db, state := newScriptedGormDB(t, []*queryStep{
		{
			pattern: regexp.MustCompile(`SELECT GET_LOCK`),
			args:    []driver.Value{ReminderLockName},
			columns: []string{"status"},
			rows:    [][]driver.Value{{int64(1)}},
		},
		{
			pattern: regexp.MustCompile(`SELECT RELEASE_LOCK`),
			args:    []driver.Value{ReminderLockName},
			columns: []string{"status"},
			rows:    [][]driver.Value{{int64(1)}},
		},
		{
			pattern: regexp.MustCompile(`SELECT GET_LOCK`),
			args:    []driver.Value{ReminderLockName},
			columns: []string{"status"},
			rows:    [][]driver.Value{{int64(0)}},
		},
	})
	repo := NewGormReviewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	release, acquired, err := repo.TryLock(ctx, ReminderLockName)
	require.NoError(t, err)
	require.True(t, acquired)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().InUse)

	cancel()
	require.NoError(t, release())
	assert.Equal(t, 0, sqlDB.Stats().InUse)

	_, acquired, err = repo.TryLock(context.Background(), ReminderLockName)
	require.NoError(t, err)
	assert.False(t, acquired)
	require.NoError(t, state.verifyComplete())
}
