package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"card-ledger/internal/storages"
)

const userColumns = `id, username, password_hash, is_regulator, regulator_balance, created_at`

const accountColumns = `id, user_id, kind, number, expiry, balance, btc_balance, eth_balance, btc_address, eth_address, created_at`

// rowScanner общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*storages.User, error) {
	var user storages.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsRegulator,
		&user.RegulatorBalance,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func scanAccount(row rowScanner) (*storages.Account, error) {
	var (
		account    storages.Account
		btcAddress sql.NullString
		ethAddress sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Kind,
		&account.Number,
		&account.Expiry,
		&account.Balance,
		&account.BTCBalance,
		&account.ETHBalance,
		&btcAddress,
		&ethAddress,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.BTCAddress = btcAddress.String
	account.ETHAddress = ethAddress.String
	return &account, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateUserWithAccounts создает пользователя и его карты в одной транзакции
func (s *PostgresStorage) CreateUserWithAccounts(ctx context.Context, user *storages.User, accounts []*storages.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, is_regulator, regulator_balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Username, user.PasswordHash, user.IsRegulator, user.RegulatorBalance).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		s.logger.Errorf("Failed to create user: %v", err)
		return classify("create user", err)
	}

	for _, account := range accounts {
		account.UserID = user.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO accounts (user_id, kind, number, expiry, balance, btc_balance, eth_balance, btc_address, eth_address)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at
		`,
			account.UserID,
			account.Kind,
			account.Number,
			account.Expiry,
			account.Balance,
			account.BTCBalance,
			account.ETHBalance,
			nullString(account.BTCAddress),
			nullString(account.ETHAddress),
		).Scan(&account.ID, &account.CreatedAt)
		if err != nil {
			s.logger.Errorf("Failed to create %s account: %v", account.Kind, err)
			return classify("create account", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Errorf("Failed to commit user creation: %v", err)
		return fmt.Errorf("%w: %v", storages.ErrCommit, err)
	}

	s.logger.Infof("Created user: %s (ID: %d) with %d accounts", user.Username, user.ID, len(accounts))
	return nil
}

// DeleteUser удаляет пользователя вместе с картами. Пользователя с историей операций удалить нельзя.
func (s *PostgresStorage) DeleteUser(ctx context.Context, userID int64) error {
	var hasHistory bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions t
			JOIN accounts a ON a.id = t.from_account_id OR a.id = t.to_account_id
			WHERE a.user_id = $1
		) OR EXISTS (
			SELECT 1 FROM transactions WHERE beneficiary_user_id = $1
		)
	`, userID).Scan(&hasHistory)
	if err != nil {
		return classify("check user history", err)
	}
	if hasHistory {
		return fmt.Errorf("delete user %d: %w", userID, storages.ErrHasHistory)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("delete user %d: %w", userID, storages.ErrHasHistory)
		}
		s.logger.Errorf("Failed to delete user: %v", err)
		return classify("delete user", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, storages.ErrNotFound)
	}

	s.logger.Infof("Deleted user %d", userID)
	return nil
}

// GetUserByID возвращает пользователя по ID
func (s *PostgresStorage) GetUserByID(ctx context.Context, userID int64) (*storages.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, storages.ErrNotFound)
	}
	if err != nil {
		s.logger.Errorf("Failed to get user by ID: %v", err)
		return nil, classify("get user", err)
	}
	return user, nil
}

// GetUserByUsername возвращает пользователя по имени
func (s *PostgresStorage) GetUserByUsername(ctx context.Context, username string) (*storages.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, storages.ErrNotFound)
	}
	if err != nil {
		s.logger.Errorf("Failed to get user by username: %v", err)
		return nil, classify("get user", err)
	}
	return user, nil
}

// GetRegulator возвращает пользователя-регулятора
func (s *PostgresStorage) GetRegulator(ctx context.Context) (*storages.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_regulator`)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("regulator: %w", storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get regulator", err)
	}
	return user, nil
}

// GetAccountByID возвращает карту по ID
func (s *PostgresStorage) GetAccountByID(ctx context.Context, accountID int64) (*storages.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", accountID, storages.ErrNotFound)
	}
	if err != nil {
		s.logger.Errorf("Failed to get account by ID: %v", err)
		return nil, classify("get account", err)
	}
	return account, nil
}

// GetAccountByNumber возвращает карту по 16-значному номеру
func (s *PostgresStorage) GetAccountByNumber(ctx context.Context, number string) (*storages.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE number = $1`, number)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", number, storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get account by number", err)
	}
	return account, nil
}

// FindAccount ищет карту по номеру, BTC или ETH адресу
func (s *PostgresStorage) FindAccount(ctx context.Context, ref string) (*storages.Account, error) {
	return findAccount(ctx, s.db, ref)
}

// GetAccountsByUser возвращает карты пользователя
func (s *PostgresStorage) GetAccountsByUser(ctx context.Context, userID int64) ([]storages.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		s.logger.Errorf("Failed to query accounts: %v", err)
		return nil, classify("query accounts", err)
	}
	defer rows.Close()

	var accounts []storages.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err = rows.Err(); err != nil {
		return nil, classify("iterate accounts", err)
	}

	return accounts, nil
}

// queryRower общий интерфейс *sql.DB и *sql.Tx для точечных запросов
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findAccount(ctx context.Context, q queryRower, ref string) (*storages.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE number = $1 OR btc_address = $1 OR eth_address = $1
		LIMIT 1
	`, ref)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", ref, storages.ErrNotFound)
	}
	if err != nil {
		return nil, classify("find account", err)
	}
	return account, nil
}
