package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

type configRow struct {
	ThresholdUSD           decimal.Decimal `db:"threshold_usd"`
	EVMDestinationAddress  string          `db:"evm_destination_address"`
	BTCDestinationAddress  string          `db:"btc_destination_address"`
	TronDestinationAddress string          `db:"tron_destination_address"`
	UpdatedAt              time.Time       `db:"updated_at"`
	UpdatedBy              string          `db:"updated_by"`
}

// ConfigRepo implements storage.ConfigStore using the singleton monitor_config row.
type ConfigRepo struct {
	db *DB
}

// NewConfigRepo creates a new PostgreSQL config store.
func NewConfigRepo(db *DB) *ConfigRepo {
	return &ConfigRepo{db: db}
}

// Get returns the configuration row, inserting defaults first if it does not exist.
func (r *ConfigRepo) Get(ctx context.Context) (domain.MonitorConfig, error) {
	def := domain.DefaultMonitorConfig()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitor_config (id, threshold_usd, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, domain.MonitorConfigID, def.ThresholdUSD, def.UpdatedAt, def.UpdatedBy)
	if err != nil {
		return domain.MonitorConfig{}, fmt.Errorf("failed to seed monitor config: %w", err)
	}

	var row configRow
	err = r.db.GetContext(ctx, &row, `
		SELECT threshold_usd, evm_destination_address, btc_destination_address,
		       tron_destination_address, updated_at, updated_by
		FROM monitor_config
		WHERE id = $1
	`, domain.MonitorConfigID)
	if err != nil {
		return domain.MonitorConfig{}, fmt.Errorf("failed to read monitor config: %w", err)
	}

	return domain.MonitorConfig{
		ThresholdUSD:           row.ThresholdUSD,
		EVMDestinationAddress:  row.EVMDestinationAddress,
		BTCDestinationAddress:  row.BTCDestinationAddress,
		TronDestinationAddress: row.TronDestinationAddress,
		UpdatedAt:              row.UpdatedAt,
		UpdatedBy:              row.UpdatedBy,
	}, nil
}

// Update upserts the configuration row.
func (r *ConfigRepo) Update(ctx context.Context, cfg domain.MonitorConfig) error {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO monitor_config (id, threshold_usd, evm_destination_address, btc_destination_address,
		                            tron_destination_address, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			threshold_usd = EXCLUDED.threshold_usd,
			evm_destination_address = EXCLUDED.evm_destination_address,
			btc_destination_address = EXCLUDED.btc_destination_address,
			tron_destination_address = EXCLUDED.tron_destination_address,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`,
		domain.MonitorConfigID,
		cfg.ThresholdUSD,
		cfg.EVMDestinationAddress,
		cfg.BTCDestinationAddress,
		cfg.TronDestinationAddress,
		cfg.UpdatedAt,
		cfg.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update monitor config: %w", err)
	}
	return nil
}
