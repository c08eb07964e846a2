package postgres

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"card-ledger/internal/storages"
	"github.com/lib/pq"
)

// classify приводит ошибку драйвера к ошибкам хранилища.
// Конфликты сериализации, дедлоки и обрывы соединения считаются временными.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, driver.ErrBadConn) {
		return &storages.TransientError{Op: op, Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, storages.ErrConflict, pqErr.Detail)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "57P01":
			return &storages.TransientError{Op: op, Err: err}
		case pqErr.Code.Class() == "08":
			return &storages.TransientError{Op: op, Err: err}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isForeignKeyViolation сообщает, нарушено ли ограничение внешнего ключа
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
