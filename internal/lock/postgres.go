package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logging"
)

// PostgresLocker uses session-level advisory locks so single-flight holds
// across server and worker processes. Each held key pins one pooled connection
// until released.
type PostgresLocker struct {
	DB     *sql.DB
	Logger *zap.Logger
}

func (p *PostgresLocker) Acquire(ctx context.Context, key string) (Release, error) {
	conn, err := p.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return p.unlocker(conn, key), nil
}

func (p *PostgresLocker) TryAcquire(ctx context.Context, key string) (Release, bool, error) {
	conn, err := p.DB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory try-lock %s: %w", key, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return p.unlocker(conn, key), true, nil
}

// unlocker releases key and returns the conn to the pool. A conn whose
// unlock failed may still hold the lock, so it is discarded instead.
func (p *PostgresLocker) unlocker(conn *sql.Conn, key string) Release {
	return func() {
		_, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key)
		if err != nil {
			logging.OrNop(p.Logger).Warn("advisory unlock failed, discarding connection",
				zap.String("key", key), zap.Error(err))
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
}

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*PostgresLocker)(nil)
)
