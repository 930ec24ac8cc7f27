package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// JobLocker serializes a background job across processes sharing one
// database. Repositories that cannot lock across processes do not
// implement it.
type JobLocker interface {
	// TryLock returns acquired=false without waiting when another session
	// holds name. release must be called once when acquired is true.
	TryLock(ctx context.Context, name string) (release func() error, acquired bool, err error)
}

// TryLock takes a MySQL named lock with a zero timeout. Named locks belong
// to a session, so one pooled connection is held until release.
func (r *GormReviewRepository) TryLock(ctx context.Context, name string) (func() error, bool, error) {
	if strings.TrimSpace(name) == "" {
		return func() error { return nil }, true, nil
	}

	sqlDB, err := r.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get lock %s: %w", name, err)
	}

	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("get lock %s: %w", name, err)
	}
	if !ok.Valid || ok.Int64 != 1 {
		_ = conn.Close()
		return nil, false, nil
	}

	return func() error {
		defer conn.Close()
		var released sql.NullInt64
		// The caller's context may already be cancelled; the lock must still go.
		if err := conn.QueryRowContext(context.WithoutCancel(ctx), "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}, true, nil
}
