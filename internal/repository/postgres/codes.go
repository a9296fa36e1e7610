package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axnihao/otp-service/internal/core/domain"
	"github.com/axnihao/otp-service/internal/core/port"
	"github.com/axnihao/otp-service/internal/repository"
)

const codesTable = "otp_codes"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CodeRepository implements port.CodeRepository backed by PostgreSQL.
//
// Eligibility filtering compares expires_at against the database clock so
// that clock skew between service hosts cannot shift expiry decisions.
type CodeRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCodeRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewCodeRepository(exec pgExecutor) *CodeRepository {
	repo := &CodeRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Insert persists a new code record.
func (r *CodeRepository) Insert(ctx context.Context, record domain.CodeRecord) error {
	stmt, args, err := r.builder.Insert(codesTable).
		Columns(
			"id",
			"address",
			"code",
			"created_at",
			"expires_at",
			"attempts",
			"max_attempts",
			"verified",
			"verified_at",
		).
		Values(
			record.ID,
			record.Address,
			record.Code,
			record.CreatedAt,
			record.ExpiresAt,
			record.Attempts,
			record.MaxAttempts,
			record.Verified,
			record.VerifiedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert code sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert code record: %w", err)
	}

	return nil
}

// FindLatestEligible returns the most recently created record for the address
// that is still unverified and unexpired, or repository.ErrNotFound.
func (r *CodeRepository) FindLatestEligible(ctx context.Context, address string) (*domain.CodeRecord, error) {
	stmt, args, err := r.builder.Select(
		"id",
		"address",
		"code",
		"created_at",
		"expires_at",
		"attempts",
		"max_attempts",
		"verified",
		"verified_at",
	).
		From(codesTable).
		Where(squirrel.Eq{"address": address}).
		Where(squirrel.Eq{"verified": false}).
		Where(squirrel.Expr("expires_at > now()")).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select code sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		record     domain.CodeRecord
		verifiedAt sql.NullTime
	)

	if err := row.Scan(
		&record.ID,
		&record.Address,
		&record.Code,
		&record.CreatedAt,
		&record.ExpiresAt,
		&record.Attempts,
		&record.MaxAttempts,
		&record.Verified,
		&verifiedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan code record: %w", err)
	}

	if verifiedAt.Valid {
		t := verifiedAt.Time
		record.VerifiedAt = &t
	}

	return &record, nil
}

// IncrementAttempts atomically increments the attempt counter and returns the
// new value. The update is conditional on attempts < max_attempts, so the
// stored counter can never pass the budget no matter how many callers race;
// a spent budget surfaces as repository.ErrAttemptsExhausted.
func (r *CodeRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	stmt, args, err := r.builder.Update(codesTable).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Expr("attempts < max_attempts")).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return 0, r.classifyMissedIncrement(ctx, id)
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	return attempts, nil
}

func (r *CodeRepository) classifyMissedIncrement(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Select("attempts", "max_attempts").
		From(codesTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return fmt.Errorf("build attempts lookup sql: %w", err)
	}

	var attempts, maxAttempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts, &maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("scan attempt counters: %w", err)
	}

	if attempts >= maxAttempts {
		return repository.ErrAttemptsExhausted
	}

	return repository.ErrNotFound
}

// MarkVerified transitions the record to its verified terminal state. The
// update is conditional on verified still being false; when a racing call won
// the transition the method returns repository.ErrAlreadyVerified.
func (r *CodeRepository) MarkVerified(ctx context.Context, id string, verifiedAt time.Time) error {
	stmt, args, err := r.builder.Update(codesTable).
		Set("verified", true).
		Set("verified_at", verifiedAt).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Eq{"verified": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, id)
	}

	return nil
}

func (r *CodeRepository) classifyMissedUpdate(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Select("verified").
		From(codesTable).
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verified lookup sql: %w", err)
	}

	var verified bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&verified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("scan verified flag: %w", err)
	}

	if verified {
		return repository.ErrAlreadyVerified
	}

	return repository.ErrNotFound
}

var _ port.CodeRepository = (*CodeRepository)(nil)
