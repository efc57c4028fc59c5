package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
)

var activeStatuses = []string{string(domain.SweepStatusPending), string(domain.SweepStatusSubmitted)}

const sweepColumns = `id, wallet_id, chain_family, asset, amount::TEXT AS amount, destination,
	status, tx_hash, reason, created_at, updated_at`

type sweepRow struct {
	ID          string    `db:"id"`
	WalletID    string    `db:"wallet_id"`
	ChainFamily string    `db:"chain_family"`
	Asset       string    `db:"asset"`
	Amount      string    `db:"amount"`
	Destination string    `db:"destination"`
	Status      string    `db:"status"`
	TxHash      string    `db:"tx_hash"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r sweepRow) toDomain() (*domain.SweepRecord, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("sweep %s: invalid amount %q", r.ID, r.Amount)
	}
	return &domain.SweepRecord{
		ID:          r.ID,
		WalletID:    r.WalletID,
		ChainFamily: domain.ChainFamily(r.ChainFamily),
		Asset:       r.Asset,
		Amount:      amount,
		Destination: r.Destination,
		Status:      domain.SweepStatus(r.Status),
		TxHash:      r.TxHash,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// SweepRepo implements storage.SweepRepository using PostgreSQL.
// Exclusivity relies on the partial unique index sweep_records_active_tuple.
type SweepRepo struct {
	db *DB
}

// NewSweepRepo creates a new PostgreSQL sweep repository.
func NewSweepRepo(db *DB) *SweepRepo {
	return &SweepRepo{db: db}
}

// InsertPending inserts a pending record or returns storage.ErrAlreadyPending.
func (r *SweepRepo) InsertPending(ctx context.Context, rec *domain.SweepRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}

	query := `
		INSERT INTO sweep_records (id, wallet_id, chain_family, asset, amount, destination, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, 'pending', NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(
		ctx,
		query,
		rec.ID,
		rec.WalletID,
		string(rec.ChainFamily),
		rec.Asset,
		amount,
		rec.Destination,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyPending, rec.Tuple())
	}
	if err != nil {
		return fmt.Errorf("failed to insert sweep record: %w", err)
	}
	rec.Status = domain.SweepStatusPending
	return nil
}

// transition updates a record whose status is in from. Zero affected rows is
// resolved into ErrNotFound or ErrInvalidTransition.
func (r *SweepRepo) transition(
	ctx context.Context,
	id string,
	to domain.SweepStatus,
	from []domain.SweepStatus,
	set string,
	args ...any,
) error {
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	query := fmt.Sprintf(`
		UPDATE sweep_records
		SET status = $1, updated_at = NOW()%s
		WHERE id = $2 AND status = ANY($3)
	`, set)
	res, err := r.db.ExecContext(ctx, query, append([]any{string(to), id, pq.Array(fromStr)}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update sweep %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = r.db.GetContext(ctx, &current, `SELECT status FROM sweep_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sweep %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, to)
}

func (r *SweepRepo) MarkSubmitted(ctx context.Context, id, txHash string, amount *big.Int) error {
	if amount == nil {
		return r.transition(ctx, id, domain.SweepStatusSubmitted,
			[]domain.SweepStatus{domain.SweepStatusPending},
			", tx_hash = $4", txHash)
	}
	return r.transition(ctx, id, domain.SweepStatusSubmitted,
		[]domain.SweepStatus{domain.SweepStatusPending},
		", tx_hash = $4, amount = $5::NUMERIC", txHash, amount.String())
}

func (r *SweepRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.transition(ctx, id, domain.SweepStatusFailed,
		[]domain.SweepStatus{domain.SweepStatusPending, domain.SweepStatusSubmitted},
		", reason = $4", reason)
}

func (r *SweepRepo) MarkConfirmed(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.SweepStatusConfirmed,
		[]domain.SweepStatus{domain.SweepStatusSubmitted}, "")
}

func (r *SweepRepo) Get(ctx context.Context, id string) (*domain.SweepRecord, error) {
	var row sweepRow
	err := r.db.GetContext(ctx, &row, `SELECT `+sweepColumns+` FROM sweep_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sweep %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep: %w", err)
	}
	return row.toDomain()
}

func (r *SweepRepo) Active(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error) {
	query := `SELECT ` + sweepColumns + `
		FROM sweep_records
		WHERE wallet_id = $1 AND chain_family = $2 AND asset = $3 AND status = ANY($4)
		LIMIT 1`
	return r.one(ctx, query, tuple.WalletID, string(tuple.ChainFamily), tuple.Asset, pq.Array(activeStatuses))
}

func (r *SweepRepo) LatestForTuple(ctx context.Context, tuple domain.SweepTuple) (*domain.SweepRecord, error) {
	query := `SELECT ` + sweepColumns + `
		FROM sweep_records
		WHERE wallet_id = $1 AND chain_family = $2 AND asset = $3
		ORDER BY created_at DESC
		LIMIT 1`
	return r.one(ctx, query, tuple.WalletID, string(tuple.ChainFamily), tuple.Asset)
}

func (r *SweepRepo) one(ctx context.Context, query string, args ...any) (*domain.SweepRecord, error) {
	var row sweepRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep: %w", err)
	}
	return row.toDomain()
}

func (r *SweepRepo) ListSubmittedBefore(
	ctx context.Context,
	before time.Time,
	limit int,
) ([]*domain.SweepRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + sweepColumns + `
		FROM sweep_records
		WHERE status = 'submitted' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	var rows []sweepRow
	if err := r.db.SelectContext(ctx, &rows, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list submitted sweeps: %w", err)
	}

	out := make([]*domain.SweepRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
