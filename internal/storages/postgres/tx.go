package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// transactionLogLockKey ключ advisory-блокировки журнала операций.
// Блокировка держится до конца транзакции, поэтому MAX(id)+1 не дает пропусков и дублей.
const transactionLogLockKey int64 = 0x6c6564676572

// RunInTx выполняет fn в транзакции БД. Откат гарантирован на любом пути выхода кроме фиксации.
func (s *PostgresStorage) RunInTx(ctx context.Context, fn func(tx storages.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.logger.Errorf("Failed to begin transaction: %v", err)
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&pgTx{tx: sqlTx, logger: s.logger}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		s.logger.Errorf("Failed to commit transaction: %v", err)
		return fmt.Errorf("%w: %v", storages.ErrCommit, err)
	}
	return nil
}

// pgTx единица работы поверх *sql.Tx
type pgTx struct {
	tx        *sql.Tx
	logger    *logrus.Logger
	logLocked bool
}

func (t *pgTx) FindAccount(ctx context.Context, ref string) (*storages.Account, error) {
	return findAccount(ctx, t.tx, ref)
}

// LockAccounts блокирует строки карт по одной в порядке возрастания id
func (t *pgTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*storages.Account, error) {
	ordered := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := make(map[int64]*storages.Account, len(ordered))
	for _, id := range ordered {
		row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		account, err := scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, storages.ErrNotFound)
		}
		if err != nil {
			return nil, classify("lock account", err)
		}
		locked[id] = account
	}

	t.logger.Debugf("Locked accounts %v", ordered)
	return locked, nil
}

func (t *pgTx) LockRegulator(ctx context.Context) (*storages.User, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_regulator FOR UPDATE`)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("regulator: %w", storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("lock regulator", err)
	}
	return user, nil
}

func (t *pgTx) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	return t.update(ctx, "set balance", `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
}

func (t *pgTx) SetCryptoBalance(ctx context.Context, accountID int64, asset storages.Currency, balance decimal.Decimal) error {
	var query string
	switch asset {
	case storages.CurrencyBTC:
		query = `UPDATE accounts SET btc_balance = $1 WHERE id = $2 AND kind = 'crypto'`
	case storages.CurrencyETH:
		query = `UPDATE accounts SET eth_balance = $1 WHERE id = $2 AND kind = 'crypto'`
	default:
		return fmt.Errorf("set crypto balance: unsupported asset %s", asset)
	}
	return t.update(ctx, "set crypto balance", query, balance, accountID)
}

func (t *pgTx) SetRegulatorBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	return t.update(ctx, "set regulator balance",
		`UPDATE users SET regulator_balance = $1 WHERE id = $2 AND is_regulator`, balance, userID)
}

func (t *pgTx) update(ctx context.Context, op, query string, balance decimal.Decimal, id int64) error {
	result, err := t.tx.ExecContext(ctx, query, balance, id)
	if err != nil {
		return classify(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", op, id, storages.ErrNotFound)
	}
	return nil
}

// AppendTransaction захватывает блокировку журнала (один раз на единицу работы)
// и записывает операцию под следующим номером
func (t *pgTx) AppendTransaction(ctx context.Context, rec *storages.Transaction) error {
	if !t.logLocked {
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, transactionLogLockKey); err != nil {
			return classify("lock transaction log", err)
		}
		t.logLocked = true
	}

	var nextID int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM transactions`).Scan(&nextID); err != nil {
		return classify("next transaction id", err)
	}

	if rec.Status == "" {
		rec.Status = storages.TransactionStatusCompleted
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO transactions (id, from_account_id, to_account_id, beneficiary_user_id, from_number, to_number,
			amount, currency, converted_amount, converted_currency, kind, status, description, wallet)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`,
		nextID,
		rec.FromAccountID,
		nullInt64(rec.ToAccountID),
		nullInt64(rec.BeneficiaryUserID),
		rec.FromNumber,
		rec.ToNumber,
		rec.Amount,
		rec.Currency,
		rec.ConvertedAmount,
		rec.ConvertedCurrency,
		rec.Kind,
		rec.Status,
		rec.Description,
		rec.Wallet,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return classify("append transaction", err)
	}

	rec.ID = nextID
	t.logger.Debugf("Appended transaction %d (%s)", rec.ID, rec.Kind)
	return nil
}
