// Package queue реализует ядро допуска и планирования: атомарные операции
// перехода записей очереди, пересчёт позиций и аудит согласованности.
// Все операции безопасны при произвольном чередовании конкурентных
// запросов — точка сериализации одна, база данных.
package queue

import (
	"context"
	"fmt"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/models"
	"job_fair/internal/priority"

	"gorm.io/gorm"
)

// nearFrontWindow — глубина "почти вызвали": соискатель с позицией не дальше
// этой в другой очереди не может вставать в новую.
const nearFrontWindow = 3

// applyTransition переводит запись в статус to и проставляет соответствующую
// временную метку. Метка ставится ровно один раз — обратных переходов граф
// статусов не допускает. Позиция обнуляется при уходе из waiting.
func applyTransition(e *models.QueueEntry, to string, now time.Time) error {
	if !models.CanTransition(e.Status, to) {
		return apperr.Conflict("WRONG_STATUS",
			fmt.Sprintf("Переход %s → %s недопустим", e.Status, to))
	}
	e.Status = to
	e.Position = 0
	switch to {
	case models.StatusActive:
		e.StartedAt = &now
	case models.StatusCompleted:
		e.CompletedAt = &now
	case models.StatusCancelled:
		e.CompletedAt = &now
	case models.StatusSkipped:
		e.SkippedAt = &now
	}
	return nil
}

// saveTransition фиксирует результат перехода точечно по колонкам: статус,
// позиция и метка перехода. Целая структура в базу не пишется — Save снимка,
// прочитанного до блокировки, мог бы затереть поля параллельной транзакции.
func saveTransition(tx *gorm.DB, e *models.QueueEntry) error {
	updates := map[string]interface{}{
		"status":   e.Status,
		"position": e.Position,
	}
	switch e.Status {
	case models.StatusActive:
		updates["started_at"] = e.StartedAt
	case models.StatusCompleted:
		updates["completed_at"] = e.CompletedAt
	case models.StatusCancelled:
		updates["completed_at"] = e.CompletedAt
		updates["cancel_reason"] = e.CancelReason
	case models.StatusSkipped:
		updates["skipped_at"] = e.SkippedAt
	}
	if err := tx.Model(&models.QueueEntry{}).
		Where("id = ?", e.ID).
		Updates(updates).Error; err != nil {
		return apperr.Store("Ошибка записи перехода", err)
	}
	return nil
}

func validateID(id uint, code string) error {
	if id == 0 {
		return apperr.Validation(code, "Неверный идентификатор")
	}
	return nil
}

// JoinResult — итог вступления: окончательная позиция берётся после
// пересчёта, а не предварительная.
type JoinResult struct {
	EntryID       uint `json:"entry_id"`
	Position      int  `json:"position"`
	PriorityScore int  `json:"priority_score"`
	WaitingCount  int  `json:"waiting_count"`
}

// Join ставит соискателя в очередь станции. Предусловия: роль applicant,
// станция существует и активна, нет живой записи на этой станции, нет
// активной записи нигде и нет записи с позицией ≤ 3 в другой очереди.
// Из K одновременных попыток одной пары (соискатель, станция) фиксируется
// ровно одна — гонку добивает частичный уникальный индекс, см. storage.Migrate.
func Join(ctx context.Context, userID, stationID uint, engagementType string) (*JoinResult, error) {
	if err := validateID(userID, "INVALID_USER_ID"); err != nil {
		return nil, err
	}
	if err := validateID(stationID, "INVALID_STATION_ID"); err != nil {
		return nil, err
	}
	if engagementType == "" {
		return nil, apperr.Validation("VALIDATION_ERROR", "Не указана цель собеседования")
	}

	var result JoinResult
	err := inTx(ctx, func(tx *gorm.DB) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		if user.Role != models.RoleApplicant {
			return apperr.Forbidden("NOT_APPLICANT", "В очередь может встать только соискатель")
		}

		station, err := lockStation(tx, stationID)
		if err != nil {
			return err
		}
		now := time.Now()
		if !station.IsActive || (!station.ClosesAt.IsZero() && now.After(station.ClosesAt)) {
			return apperr.Validation("STATION_INACTIVE", "Станция не принимает соискателей")
		}

		// Быстрая проверка дубля; саму гонку "проверил — вставил" закрывает
		// уникальный индекс, это лишь ранний понятный ответ.
		if existing, err := findLiveEntry(tx, userID, stationID); err != nil {
			return err
		} else if existing != nil {
			return apperr.Conflict("ALREADY_IN_QUEUE", "Пользователь уже состоит в очереди этой станции")
		}

		// Межстанционная проверка: сперва активное собеседование где угодно,
		// затем "почти вызвали" в другой очереди.
		others, err := liveEntriesForUser(tx, userID)
		if err != nil {
			return err
		}
		var blockers []string
		for _, o := range others {
			if o.Status == models.StatusActive {
				return apperr.QueueConflict("ACTIVE_ELSEWHERE",
					"Сейчас идёт собеседование на другой станции", []string{o.Station.OrgName})
			}
			if o.Status == models.StatusWaiting && o.Position > 0 && o.Position <= nearFrontWindow {
				blockers = append(blockers, o.Station.OrgName)
			}
		}
		if len(blockers) > 0 {
			return apperr.QueueConflict("NEAR_FRONT_ELSEWHERE",
				"Вас скоро вызовут в другой очереди", blockers)
		}

		// Предварительная позиция — только подсказка (кэш длины очереди),
		// окончательную даёт пересчёт ниже.
		provisional := queueLenHint(ctx, stationID)
		if provisional < 0 {
			n, err := countWaiting(tx, stationID)
			if err != nil {
				return err
			}
			provisional = int(n)
		}

		entry := models.QueueEntry{
			UserID:         userID,
			StationID:      stationID,
			Status:         models.StatusWaiting,
			Position:       provisional + 1,
			PriorityScore:  priority.Score(user.Role, user.Tier, engagementType),
			EngagementType: engagementType,
			JoinedAt:       now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		arranged, err := reorderStation(tx, stationID)
		if err != nil {
			return err
		}
		result = JoinResult{
			EntryID:       entry.ID,
			PriorityScore: entry.PriorityScore,
			WaitingCount:  len(arranged),
		}
		for _, e := range arranged {
			if e.ID == entry.ID {
				result.Position = e.Position
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	storeQueueLenHint(ctx, stationID, result.WaitingCount)
	return &result, nil
}

// Leave выводит соискателя из очереди. Разрешён только из waiting.
func Leave(ctx context.Context, entryID, userID uint) (*models.QueueEntry, error) {
	if err := validateID(entryID, "INVALID_ENTRY_ID"); err != nil {
		return nil, err
	}

	var left models.QueueEntry
	var waiting int
	err := inTx(ctx, func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if _, err := lockStation(tx, entry.StationID); err != nil {
			return err
		}
		// Предусловия — по свежему чтению под блокировкой станции: статус мог
		// смениться между первым чтением и захватом блокировки.
		entry, err = lockEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.UserID != userID {
			return apperr.Forbidden("NOT_OWNER", "Запись принадлежит другому пользователю")
		}
		if entry.Status != models.StatusWaiting {
			return apperr.Conflict("WRONG_STATUS", "Покинуть можно только очередь ожидания")
		}

		if err := applyTransition(entry, models.StatusCancelled, time.Now()); err != nil {
			return err
		}
		if err := saveTransition(tx, entry); err != nil {
			return err
		}

		arranged, err := reorderStation(tx, entry.StationID)
		if err != nil {
			return err
		}
		left = *entry
		waiting = len(arranged)
		return nil
	})
	if err != nil {
		return nil, err
	}

	storeQueueLenHint(ctx, left.StationID, waiting)
	return &left, nil
}

// Reschedule переносит запись в конец её группы приоритета, сбрасывая
// JoinedAt. Запрещён с первой позиции: кого вот-вот вызовут, тот либо идёт,
// либо покидает очередь через Leave.
func Reschedule(ctx context.Context, entryID, userID uint) (*models.QueueEntry, error) {
	if err := validateID(entryID, "INVALID_ENTRY_ID"); err != nil {
		return nil, err
	}

	var moved models.QueueEntry
	err := inTx(ctx, func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if _, err := lockStation(tx, entry.StationID); err != nil {
			return err
		}
		// Позиция проверяется по свежему чтению: параллельный пересчёт мог
		// сдвинуть запись на первое место.
		entry, err = lockEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.UserID != userID {
			return apperr.Forbidden("NOT_OWNER", "Запись принадлежит другому пользователю")
		}
		if entry.Status != models.StatusWaiting {
			return apperr.Conflict("WRONG_STATUS", "Перенести можно только запись в ожидании")
		}
		if entry.Position == 1 {
			return apperr.Conflict("FIRST_IN_LINE", "Вы первый в очереди — перенос недоступен")
		}

		entry.JoinedAt = time.Now()
		if err := tx.Model(&models.QueueEntry{}).
			Where("id = ?", entry.ID).
			Update("joined_at", entry.JoinedAt).Error; err != nil {
			return apperr.Store("Ошибка переноса записи", err)
		}

		arranged, err := reorderStation(tx, entry.StationID)
		if err != nil {
			return err
		}
		for _, e := range arranged {
			if e.ID == entry.ID {
				entry.Position = e.Position
			}
		}
		moved = *entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// Cancel закрывает запись со статусом cancelled. В отличие от Leave разрешён
// и для активного собеседования; причина сохраняется.
func Cancel(ctx context.Context, entryID, userID uint, reason string) (*models.QueueEntry, error) {
	if err := validateID(entryID, "INVALID_ENTRY_ID"); err != nil {
		return nil, err
	}

	var cancelled models.QueueEntry
	var wasWaiting bool
	var waiting int
	err := inTx(ctx, func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if _, err := lockStation(tx, entry.StationID); err != nil {
			return err
		}
		entry, err = lockEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.UserID != userID {
			return apperr.Forbidden("NOT_OWNER", "Запись принадлежит другому пользователю")
		}

		wasWaiting = entry.Status == models.StatusWaiting
		if err := applyTransition(entry, models.StatusCancelled, time.Now()); err != nil {
			return err
		}
		entry.CancelReason = reason
		if err := saveTransition(tx, entry); err != nil {
			return err
		}

		if wasWaiting {
			arranged, err := reorderStation(tx, entry.StationID)
			if err != nil {
				return err
			}
			waiting = len(arranged)
		}
		cancelled = *entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasWaiting {
		storeQueueLenHint(ctx, cancelled.StationID, waiting)
	}
	return &cancelled, nil
}

// staffForStation проверяет, что оператор имеет роль персонала и привязан к
// комнате станции записи.
func staffForStation(tx *gorm.DB, operatorID uint, station *models.Station) error {
	operator, err := getUser(tx, operatorID)
	if err != nil {
		return err
	}
	if !operator.IsStaff() {
		return apperr.Forbidden("NOT_STAFF", "Операция доступна только персоналу станции")
	}
	if operator.Room != station.Room {
		return apperr.Forbidden("WRONG_ROOM", "Оператор не привязан к комнате этой станции")
	}
	return nil
}

// Start запускает собеседование по записи. Одновременно на станции может
// идти только одно: гонку двух операторов пресекает уникальный индекс
// uniq_active_per_station, проигравший получает ConflictError, а уже
// идущее собеседование остаётся нетронутым.
func Start(ctx context.Context, entryID, operatorID uint) (*models.QueueEntry, error) {
	if err := validateID(entryID, "INVALID_ENTRY_ID"); err != nil {
		return nil, err
	}

	var started models.QueueEntry
	var waiting int
	err := inTx(ctx, func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		station, err := lockStation(tx, entry.StationID)
		if err != nil {
			return err
		}
		if err := staffForStation(tx, operatorID, station); err != nil {
			return err
		}
		// Статус проверяется после захвата станции: второй из двух
		// одновременных запусков одной записи видит её уже активной.
		entry, err = lockEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != models.StatusWaiting {
			return apperr.Conflict("WRONG_STATUS", "Начать можно только запись в ожидании")
		}
		if active, err := findActive(tx, entry.StationID); err != nil {
			return err
		} else if active != nil {
			return apperr.Conflict("STATION_BUSY", "На станции уже идёт собеседование")
		}

		if err := applyTransition(entry, models.StatusActive, time.Now()); err != nil {
			return err
		}
		if err := saveTransition(tx, entry); err != nil {
			return err
		}

		arranged, err := reorderStation(tx, entry.StationID)
		if err != nil {
			return err
		}
		waiting = len(arranged)
		started = *entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	storeQueueLenHint(ctx, started.StationID, waiting)
	return &started, nil
}

// End завершает активное собеседование со статусом completed.
func End(ctx context.Context, entryID, operatorID uint) (*models.QueueEntry, error) {
	return finishActive(ctx, entryID, operatorID, models.StatusCompleted)
}

// Skip помечает активное собеседование как пропущенное.
func Skip(ctx context.Context, entryID, operatorID uint) (*models.QueueEntry, error) {
	return finishActive(ctx, entryID, operatorID, models.StatusSkipped)
}

func finishActive(ctx context.Context, entryID, operatorID uint, to string) (*models.QueueEntry, error) {
	if err := validateID(entryID, "INVALID_ENTRY_ID"); err != nil {
		return nil, err
	}

	var finished models.QueueEntry
	err := inTx(ctx, func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		station, err := lockStation(tx, entry.StationID)
		if err != nil {
			return err
		}
		if err := staffForStation(tx, operatorID, station); err != nil {
			return err
		}
		entry, err = lockEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != models.StatusActive {
			return apperr.Conflict("WRONG_STATUS", "Завершить можно только активное собеседование")
		}

		if err := applyTransition(entry, to, time.Now()); err != nil {
			return err
		}
		if err := saveTransition(tx, entry); err != nil {
			return err
		}

		// Активная запись позиции не держит, но пересчёт перепроверяет
		// порядок оставшихся.
		if _, err := reorderStation(tx, entry.StationID); err != nil {
			return err
		}
		finished = *entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &finished, nil
}

// NextResult — итог составной операции "следующий".
type NextResult struct {
	Skipped   *models.QueueEntry `json:"skipped,omitempty"`
	Started   *models.QueueEntry `json:"started,omitempty"`
	NoWaiting bool               `json:"no_waiting"`
}

// AdvanceToNext — составная операция оператора: текущее активное собеседование
// (если есть) помечается пропущенным, затем запускается первая ожидающая
// запись. Пустая очередь — не ошибка, а ответ "ожидающих нет".
func AdvanceToNext(ctx context.Context, stationID, operatorID uint) (*NextResult, error) {
	if err := validateID(stationID, "INVALID_STATION_ID"); err != nil {
		return nil, err
	}

	var result NextResult
	var waiting int
	err := inTx(ctx, func(tx *gorm.DB) error {
		station, err := lockStation(tx, stationID)
		if err != nil {
			return err
		}
		if err := staffForStation(tx, operatorID, station); err != nil {
			return err
		}
		now := time.Now()

		if active, err := findActive(tx, stationID); err != nil {
			return err
		} else if active != nil {
			if err := applyTransition(active, models.StatusSkipped, now); err != nil {
				return err
			}
			if err := saveTransition(tx, active); err != nil {
				return err
			}
			skipped := *active
			result.Skipped = &skipped
		}

		entries, err := listWaiting(tx, stationID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			result.NoWaiting = true
			return nil
		}

		// Первый по активной стратегии, а не по сырому ключу сортировки.
		next := strategy.Arrange(entries)[0]
		if err := applyTransition(&next, models.StatusActive, now); err != nil {
			return err
		}
		if err := saveTransition(tx, &next); err != nil {
			return err
		}

		arranged, err := reorderStation(tx, stationID)
		if err != nil {
			return err
		}
		waiting = len(arranged)
		started := next
		result.Started = &started
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Started != nil {
		storeQueueLenHint(ctx, stationID, waiting)
	}
	return &result, nil
}
