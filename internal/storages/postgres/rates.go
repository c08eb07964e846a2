package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"card-ledger/internal/storages"
)

// SaveSnapshot сохраняет новый снимок курсов
func (s *PostgresStorage) SaveSnapshot(ctx context.Context, rates storages.RateTriple) (*storages.RateSnapshot, error) {
	snapshot := &storages.RateSnapshot{RateTriple: rates}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exchange_rates (usd_to_uah, btc_to_usd, eth_to_usd)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, rates.USDToUAH, rates.BTCToUSD, rates.ETHToUSD).Scan(&snapshot.ID, &snapshot.CreatedAt)
	if err != nil {
		s.logger.Errorf("Failed to save rate snapshot: %v", err)
		return nil, classify("save snapshot", err)
	}

	s.logger.Debugf("Saved rate snapshot %d: usd/uah=%s btc/usd=%s eth/usd=%s",
		snapshot.ID, rates.USDToUAH, rates.BTCToUSD, rates.ETHToUSD)
	return snapshot, nil
}

// LatestSnapshot возвращает самый свежий снимок курсов
func (s *PostgresStorage) LatestSnapshot(ctx context.Context) (*storages.RateSnapshot, error) {
	var snapshot storages.RateSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, usd_to_uah, btc_to_usd, eth_to_usd, created_at
		FROM exchange_rates
		ORDER BY id DESC
		LIMIT 1
	`).Scan(
		&snapshot.ID,
		&snapshot.USDToUAH,
		&snapshot.BTCToUSD,
		&snapshot.ETHToUSD,
		&snapshot.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rate snapshot: %w", storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("latest snapshot", err)
	}
	return &snapshot, nil
}

// PruneSnapshots удаляет все снимки кроме keep последних
func (s *PostgresStorage) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM exchange_rates
		WHERE id NOT IN (SELECT id FROM exchange_rates ORDER BY id DESC LIMIT $1)
	`, keep)
	if err != nil {
		return 0, classify("prune snapshots", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Debugf("Pruned %d rate snapshots", deleted)
	}
	return deleted, nil
}
