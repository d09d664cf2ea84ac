// Package postgres implements the chat store contracts on PostgreSQL (pgx).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"PChatCore/logger"
	"PChatCore/module/chat/store"
	"PChatCore/tools/errs"
	"PChatCore/tools/specialerror"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func init() {
	_ = specialerror.AddErrHandler(func(err error) int {
		var ce *pgconn.ConnectError
		if errors.As(err, &ce) || pgconn.Timeout(err) {
			return errs.UnavailableError
		}
		var pe *pgconn.PgError
		if errors.As(err, &pe) {
			switch pe.Code {
			case pgUniqueViolation:
				return errs.ConflictError
			case pgForeignKeyViolation:
				return errs.BadRequestError
			}
		}
		return 0
	})
}

type Config struct {
	Dsn      string
	MaxConns int32
	Timeout  time.Duration // 每次调用的超时
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var (
	_ store.ConversationStore = (*Store)(nil)
	_ store.MembershipStore   = (*Store)(nil)
)

// New 建连接池并 ping 一次
func New(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.Dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse dsn")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pool")
	}
	s := NewWithPool(pool, cfg.Timeout)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Infof("[Postgres] connected, max_conns=%d", pcfg.MaxConns)
	return s, nil
}

func NewWithPool(pool *pgxpool.Pool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return mapErr(s.pool.Ping(ctx), "ping")
}

// EnsureSchema 建表（幂等）
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 4*s.timeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, schemaSQL)
	return mapErr(err, "ensure schema")
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// mapErr 把驱动错误映射到错误码：无行 NotFound，唯一约束 Conflict，超时/断连 Unavailable
func mapErr(err error, op string, kv ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.As(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound.WrapMsg(op, kv...)
	}
	kv = append(kv, "err", err.Error())
	switch specialerror.ErrCode(err) {
	case errs.ConflictError:
		return errs.ErrConflict.WrapMsg(op, kv...)
	case errs.BadRequestError:
		return errs.ErrBadRequest.WrapMsg(op, kv...)
	case errs.UnavailableError:
		return errs.ErrUnavailable.WrapMsg(op, kv...)
	}
	return errs.WrapMsg(err, op)
}

func strs[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func nullable[T ~string](v T) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
