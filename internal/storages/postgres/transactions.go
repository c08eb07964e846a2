package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"card-ledger/internal/storages"
	"github.com/lib/pq"
)

const transactionColumns = `id, from_account_id, to_account_id, beneficiary_user_id, from_number, to_number,
	amount, currency, converted_amount, converted_currency, kind, status, description, wallet, created_at`

func scanTransaction(row rowScanner) (*storages.Transaction, error) {
	var (
		tx            storages.Transaction
		toAccountID   sql.NullInt64
		beneficiaryID sql.NullInt64
	)
	err := row.Scan(
		&tx.ID,
		&tx.FromAccountID,
		&toAccountID,
		&beneficiaryID,
		&tx.FromNumber,
		&tx.ToNumber,
		&tx.Amount,
		&tx.Currency,
		&tx.ConvertedAmount,
		&tx.ConvertedCurrency,
		&tx.Kind,
		&tx.Status,
		&tx.Description,
		&tx.Wallet,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if toAccountID.Valid {
		tx.ToAccountID = &toAccountID.Int64
	}
	if beneficiaryID.Valid {
		tx.BeneficiaryUserID = &beneficiaryID.Int64
	}
	return &tx, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// ListTransactions возвращает операции по картам от новых к старым
func (s *PostgresStorage) ListTransactions(ctx context.Context, accountIDs []int64, limit int) ([]storages.Transaction, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = ANY($1) OR to_account_id = ANY($1)
		ORDER BY id DESC
	`
	args := []any{pq.Array(accountIDs)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Errorf("Failed to query transactions: %v", err)
		return nil, classify("query transactions", err)
	}
	defer rows.Close()

	var transactions []storages.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			s.logger.Errorf("Failed to scan transaction: %v", err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *tx)
	}

	if err = rows.Err(); err != nil {
		s.logger.Errorf("Error iterating transactions: %v", err)
		return nil, classify("iterate transactions", err)
	}

	return transactions, nil
}

// GetTransaction возвращает операцию по ID
func (s *PostgresStorage) GetTransaction(ctx context.Context, id int64) (*storages.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, storages.ErrNotFound)
	}
	if err != nil {
		s.logger.Errorf("Failed to get transaction: %v", err)
		return nil, classify("get transaction", err)
	}
	return tx, nil
}
