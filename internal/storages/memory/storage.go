// Package memory реализует хранилище счетов и журнала операций в памяти процесса.
// Используется в тестах и для локального запуска без PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
)

// Option настраивает хранилище
type Option func(*Storage)

// WithFaultHook задает хук, вызываемый перед каждой записью внутри единицы работы.
// Ошибка хука прерывает запись. Операции: set_balance, set_crypto_balance,
// set_regulator_balance, append_transaction.
func WithFaultHook(hook func(op string) error) Option {
	return func(s *Storage) {
		s.faultHook = hook
	}
}

// Storage хранилище в памяти. Изменения единицы работы накапливаются в ее
// собственном наборе записей и применяются разом при фиксации.
type Storage struct {
	mu        sync.RWMutex
	users     map[int64]*storages.User
	accounts  map[int64]*storages.Account
	log       []storages.Transaction
	snapshots []storages.RateSnapshot

	nextUserID     int64
	nextAccountID  int64
	nextSnapshotID int64

	locksMu      sync.Mutex
	accountLocks map[int64]*sync.Mutex
	regulatorMu  sync.Mutex
	logMu        sync.Mutex

	faultHook func(op string) error
}

// New создает пустое хранилище
func New(opts ...Option) *Storage {
	s := &Storage{
		users:        make(map[int64]*storages.User),
		accounts:     make(map[int64]*storages.Account),
		accountLocks: make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) accountLock(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.accountLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.accountLocks[id] = l
	}
	return l
}

func copyUser(u *storages.User) *storages.User {
	c := *u
	return &c
}

func copyAccount(a *storages.Account) *storages.Account {
	c := *a
	return &c
}

// CreateUserWithAccounts атомарно создает пользователя и его карты
func (s *Storage) CreateUserWithAccounts(_ context.Context, user *storages.User, accounts []*storages.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			return fmt.Errorf("create user %q: %w", user.Username, storages.ErrConflict)
		}
		if user.IsRegulator && u.IsRegulator {
			return fmt.Errorf("create regulator %q: %w", user.Username, storages.ErrConflict)
		}
	}

	taken := make(map[string]struct{})
	for _, a := range s.accounts {
		for _, ref := range []string{a.Number, a.BTCAddress, a.ETHAddress} {
			if ref != "" {
				taken[ref] = struct{}{}
			}
		}
	}
	for _, a := range accounts {
		for _, ref := range []string{a.Number, a.BTCAddress, a.ETHAddress} {
			if ref == "" {
				continue
			}
			if _, ok := taken[ref]; ok {
				return fmt.Errorf("create account %s: %w", ref, storages.ErrConflict)
			}
			taken[ref] = struct{}{}
		}
	}

	now := time.Now()
	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = now
	s.users[user.ID] = copyUser(user)

	for _, a := range accounts {
		s.nextAccountID++
		a.ID = s.nextAccountID
		a.UserID = user.ID
		a.CreatedAt = now
		s.accounts[a.ID] = copyAccount(a)
	}
	return nil
}

// DeleteUser удаляет пользователя и его карты, если по ним не было операций.
// Блокировки карт берутся в том же порядке, что и в единице работы, поэтому
// удаление ждет завершения переводов по этим картам.
func (s *Storage) DeleteUser(_ context.Context, userID int64) error {
	s.mu.RLock()
	owned := make([]int64, 0, 3)
	for id, a := range s.accounts {
		if a.UserID == userID {
			owned = append(owned, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
	for _, id := range owned {
		l := s.accountLock(id)
		l.Lock()
		defer l.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, storages.ErrNotFound)
	}

	ownedSet := make(map[int64]struct{}, len(owned))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
	}
	for _, t := range s.log {
		if _, ok := ownedSet[t.FromAccountID]; ok {
			return fmt.Errorf("delete user %d: %w", userID, storages.ErrHasHistory)
		}
		if t.ToAccountID != nil {
			if _, ok := ownedSet[*t.ToAccountID]; ok {
				return fmt.Errorf("delete user %d: %w", userID, storages.ErrHasHistory)
			}
		}
		if t.BeneficiaryUserID != nil && *t.BeneficiaryUserID == userID {
			return fmt.Errorf("delete user %d: %w", userID, storages.ErrHasHistory)
		}
	}

	for _, id := range owned {
		delete(s.accounts, id)
	}
	delete(s.users, userID)
	return nil
}

func (s *Storage) GetUserByID(_ context.Context, userID int64) (*storages.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, storages.ErrNotFound)
	}
	return copyUser(u), nil
}

func (s *Storage) GetUserByUsername(_ context.Context, username string) (*storages.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, storages.ErrNotFound)
}

func (s *Storage) GetRegulator(_ context.Context) (*storages.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u := s.regulatorLocked(); u != nil {
		return copyUser(u), nil
	}
	return nil, fmt.Errorf("regulator: %w", storages.ErrNotFound)
}

// regulatorLocked ищет регулятора, вызывающий держит s.mu
func (s *Storage) regulatorLocked() *storages.User {
	for _, u := range s.users {
		if u.IsRegulator {
			return u
		}
	}
	return nil
}

func (s *Storage) GetAccountByID(_ context.Context, accountID int64) (*storages.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", accountID, storages.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (s *Storage) GetAccountByNumber(_ context.Context, number string) (*storages.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Number == number {
			return copyAccount(a), nil
		}
	}
	return nil, fmt.Errorf("account %s: %w", number, storages.ErrNotFound)
}

func (s *Storage) FindAccount(_ context.Context, ref string) (*storages.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ref == "" {
		return nil, fmt.Errorf("account %q: %w", ref, storages.ErrNotFound)
	}
	for _, a := range s.accounts {
		if a.Number == ref || a.BTCAddress == ref || a.ETHAddress == ref {
			return copyAccount(a), nil
		}
	}
	return nil, fmt.Errorf("account %q: %w", ref, storages.ErrNotFound)
}

func (s *Storage) GetAccountsByUser(_ context.Context, userID int64) ([]storages.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []storages.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			accounts = append(accounts, *a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Storage) ListTransactions(_ context.Context, accountIDs []int64, limit int) ([]storages.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}

	var result []storages.Transaction
	for i := len(s.log) - 1; i >= 0; i-- {
		t := s.log[i]
		_, from := wanted[t.FromAccountID]
		to := false
		if t.ToAccountID != nil {
			_, to = wanted[*t.ToAccountID]
		}
		if !from && !to {
			continue
		}
		result = append(result, t)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Storage) GetTransaction(_ context.Context, id int64) (*storages.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ID выдаются по возрастанию, журнал только дописывается
	i := sort.Search(len(s.log), func(i int) bool { return s.log[i].ID >= id })
	if i == len(s.log) || s.log[i].ID != id {
		return nil, fmt.Errorf("transaction %d: %w", id, storages.ErrNotFound)
	}
	t := s.log[i]
	return &t, nil
}

func (s *Storage) SaveSnapshot(_ context.Context, rates storages.RateTriple) (*storages.RateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSnapshotID++
	snapshot := storages.RateSnapshot{ID: s.nextSnapshotID, RateTriple: rates, CreatedAt: time.Now()}
	s.snapshots = append(s.snapshots, snapshot)
	return &snapshot, nil
}

func (s *Storage) LatestSnapshot(_ context.Context) (*storages.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, fmt.Errorf("rate snapshot: %w", storages.ErrNotFound)
	}
	snapshot := s.snapshots[len(s.snapshots)-1]
	return &snapshot, nil
}

func (s *Storage) PruneSnapshots(_ context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 || len(s.snapshots) <= keep {
		return 0, nil
	}
	deleted := len(s.snapshots) - keep
	s.snapshots = append([]storages.RateSnapshot(nil), s.snapshots[deleted:]...)
	return int64(deleted), nil
}

func (s *Storage) Ping(context.Context) error { return nil }

func (s *Storage) Close() error { return nil }

// RunInTx выполняет fn как единицу работы. Блокировки освобождаются в обратном
// порядке после фиксации или отката.
func (s *Storage) RunInTx(ctx context.Context, fn func(tx storages.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:        s,
		accounts: make(map[int64]*storages.Account),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx единица работы: захваченные блокировки и набор изменений
type memTx struct {
	s *Storage

	locked    []*sync.Mutex
	accounts  map[int64]*storages.Account
	regulator *storages.User
	logHeld   bool
	pending   []*storages.Transaction
}

func (t *memTx) release() {
	if t.logHeld {
		t.s.logMu.Unlock()
		t.logHeld = false
	}
	if t.regulator != nil {
		t.s.regulatorMu.Unlock()
		t.regulator = nil
	}
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}

func (t *memTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.accounts {
		// удаленная карта не восстанавливается
		if _, ok := s.accounts[id]; !ok {
			continue
		}
		s.accounts[id] = a
	}
	if t.regulator != nil {
		s.users[t.regulator.ID] = copyUser(t.regulator)
	}
	now := time.Now()
	for _, rec := range t.pending {
		rec.CreatedAt = now
		s.log = append(s.log, *rec)
	}
}

func (t *memTx) FindAccount(ctx context.Context, ref string) (*storages.Account, error) {
	return t.s.FindAccount(ctx, ref)
}

func (t *memTx) LockAccounts(_ context.Context, ids ...int64) (map[int64]*storages.Account, error) {
	ordered := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := t.accounts[id]; ok {
			continue
		}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for i, id := range ordered {
		if i > 0 && ordered[i-1] == id {
			continue
		}
		l := t.s.accountLock(id)
		l.Lock()
		t.locked = append(t.locked, l)

		t.s.mu.RLock()
		a, ok := t.s.accounts[id]
		if ok {
			a = copyAccount(a)
		}
		t.s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("account %d: %w", id, storages.ErrNotFound)
		}
		t.accounts[id] = a
	}

	result := make(map[int64]*storages.Account, len(ids))
	for _, id := range ids {
		result[id] = copyAccount(t.accounts[id])
	}
	return result, nil
}

func (t *memTx) LockRegulator(context.Context) (*storages.User, error) {
	if t.regulator != nil {
		return copyUser(t.regulator), nil
	}

	t.s.regulatorMu.Lock()
	t.s.mu.RLock()
	u := t.s.regulatorLocked()
	if u != nil {
		u = copyUser(u)
	}
	t.s.mu.RUnlock()

	if u == nil {
		t.s.regulatorMu.Unlock()
		return nil, fmt.Errorf("regulator: %w", storages.ErrNotFound)
	}
	t.regulator = u
	return copyUser(u), nil
}

func (t *memTx) fault(op string) error {
	if t.s.faultHook == nil {
		return nil
	}
	if err := t.s.faultHook(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *memTx) lockedAccount(id int64) (*storages.Account, error) {
	a, ok := t.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d is not locked in this unit of work", id)
	}
	return a, nil
}

func checkNonNegative(op string, id int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%s %d: balance would become negative (%s)", op, id, balance)
	}
	return nil
}

func (t *memTx) SetBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	if err := t.fault("set_balance"); err != nil {
		return err
	}
	a, err := t.lockedAccount(accountID)
	if err != nil {
		return err
	}
	if a.IsCrypto() {
		return fmt.Errorf("set balance %d: crypto account has no fiat balance", accountID)
	}
	if err := checkNonNegative("set balance", accountID, balance); err != nil {
		return err
	}
	a.Balance = balance
	return nil
}

func (t *memTx) SetCryptoBalance(_ context.Context, accountID int64, asset storages.Currency, balance decimal.Decimal) error {
	if err := t.fault("set_crypto_balance"); err != nil {
		return err
	}
	a, err := t.lockedAccount(accountID)
	if err != nil {
		return err
	}
	if !a.IsCrypto() {
		return fmt.Errorf("set crypto balance %d: %w", accountID, storages.ErrNotFound)
	}
	if err := checkNonNegative("set crypto balance", accountID, balance); err != nil {
		return err
	}
	switch asset {
	case storages.CurrencyBTC:
		a.BTCBalance = balance
	case storages.CurrencyETH:
		a.ETHBalance = balance
	default:
		return fmt.Errorf("set crypto balance: unsupported asset %s", asset)
	}
	return nil
}

func (t *memTx) SetRegulatorBalance(_ context.Context, userID int64, balance decimal.Decimal) error {
	if err := t.fault("set_regulator_balance"); err != nil {
		return err
	}
	if t.regulator == nil || t.regulator.ID != userID {
		return fmt.Errorf("regulator %d is not locked in this unit of work", userID)
	}
	if err := checkNonNegative("set regulator balance", userID, balance); err != nil {
		return err
	}
	t.regulator.RegulatorBalance = balance
	return nil
}

// AppendTransaction захватывает журнал до конца единицы работы, поэтому
// номер следующей записи известен заранее
func (t *memTx) AppendTransaction(_ context.Context, rec *storages.Transaction) error {
	if err := t.fault("append_transaction"); err != nil {
		return err
	}
	if !t.logHeld {
		t.s.logMu.Lock()
		t.logHeld = true
	}

	t.s.mu.RLock()
	var lastID int64
	if n := len(t.s.log); n > 0 {
		lastID = t.s.log[n-1].ID
	}
	t.s.mu.RUnlock()

	if rec.Status == "" {
		rec.Status = storages.TransactionStatusCompleted
	}
	rec.ID = lastID + int64(len(t.pending)) + 1
	rec.CreatedAt = time.Now()

	stored := *rec
	t.pending = append(t.pending, &stored)
	return nil
}
