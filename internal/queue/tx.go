package queue

import (
	"context"
	"errors"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	// txAttempts ограничивает число попыток транзакции при конфликте записи.
	// Повтор — явный цикл, не рекурсия: после исчерпания наружу уходит
	// типизированный конфликт.
	txAttempts = 3
	txBackoff  = 50 * time.Millisecond

	// opTimeout — максимальная длительность одной операции перехода.
	opTimeout = 5 * time.Second
)

// inTx выполняет fn как одну транзакционную единицу работы: либо фиксируются
// все записи, либо ни одной. Конфликты сериализации повторяются ограниченно
// с нарастающей паузой; доменные ошибки детерминированы и не повторяются.
func inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err := storage.DB.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if _, ok := apperr.As(err); ok {
			return err
		}
		if conflictErr := classifyConstraint(err); conflictErr != nil {
			return conflictErr
		}
		if ctx.Err() != nil {
			return apperr.Store("Операция прервана по тайм-ауту", ctx.Err())
		}
		if !isRetryable(err) {
			return apperr.Store("Ошибка транзакции", err)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return apperr.Store("Операция прервана по тайм-ауту", ctx.Err())
		case <-time.After(time.Duration(attempt) * txBackoff):
		}
	}
	return &apperr.Error{
		Kind:    apperr.KindConflict,
		Code:    "TX_RETRY_EXHAUSTED",
		Message: "Очередь обновляется, повторите попытку",
		Err:     lastErr,
	}
}

// classifyConstraint превращает нарушение частичных уникальных индексов в
// обычный ConflictError: это штатный путь проигравшего из K конкурентных
// запросов, а не инфраструктурный сбой.
func classifyConstraint(err error) *apperr.Error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "uniq_live_entry_per_station":
		return apperr.Conflict("ALREADY_IN_QUEUE", "Пользователь уже состоит в очереди этой станции")
	case "uniq_active_per_station":
		return apperr.Conflict("STATION_BUSY", "На станции уже идёт собеседование")
	}
	return apperr.Conflict("CONSTRAINT_VIOLATION", "Конфликт уникальности записи")
}

// isRetryable распознаёт конфликты, которые снимаются повтором транзакции:
// сбой сериализации (40001) и взаимоблокировку (40P01).
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
