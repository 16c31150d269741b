package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/models"
	"job_fair/internal/storage"

	"gorm.io/gorm"
)

// Report — структурированный итог проверки согласованности.
type Report struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
	Fixed  int      `json:"fixed"`
}

func (r *Report) issue(format string, args ...interface{}) {
	r.Valid = false
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// AuditAndRepair — идемпотентный пакетный проход по всему хранилищу.
// Чинит: осиротевшие записи (принудительная отмена), битые/дублирующиеся/
// отсутствующие позиции (переназначение по порядку приоритета), отсутствующие
// временные метки (дозаполнение с логированием). Несколько активных записей
// одной станции — неоднозначный случай: только помечается, не чинится.
// Безопасен на живом хранилище; повторный запуск по валидным данным
// ничего не исправляет.
func AuditAndRepair(ctx context.Context) (*Report, error) {
	report := &Report{Valid: true, Issues: []string{}}
	db := storage.DB.WithContext(ctx)

	if err := repairOrphans(db, report); err != nil {
		return nil, err
	}
	if err := repairTimestamps(db, report); err != nil {
		return nil, err
	}

	var stationIDs []uint
	if err := db.Model(&models.QueueEntry{}).
		Distinct("station_id").Pluck("station_id", &stationIDs).Error; err != nil {
		return nil, apperr.Store("Ошибка выборки станций для аудита", err)
	}

	for _, stationID := range stationIDs {
		if err := auditStation(ctx, stationID, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// repairOrphans отменяет живые записи, ссылающиеся на удалённого
// пользователя или станцию.
func repairOrphans(db *gorm.DB, report *Report) error {
	var orphans []models.QueueEntry
	if err := db.
		Where("status IN ?", liveStatuses).
		Where(`user_id NOT IN (SELECT id FROM users WHERE deleted_at IS NULL)
			OR station_id NOT IN (SELECT id FROM stations WHERE deleted_at IS NULL)`).
		Find(&orphans).Error; err != nil {
		return apperr.Store("Ошибка поиска осиротевших записей", err)
	}

	now := time.Now()
	for _, entry := range orphans {
		report.issue("запись %d ссылается на удалённого пользователя или станцию", entry.ID)
		entry.Status = models.StatusCancelled
		entry.Position = 0
		entry.CompletedAt = &now
		entry.CancelReason = "audit: осиротевшая запись"
		if err := db.Save(&entry).Error; err != nil {
			return apperr.Store("Ошибка отмены осиротевшей записи", err)
		}
		report.Fixed++
		log.Printf("Аудит: запись %d принудительно отменена (осиротевшая)", entry.ID)
	}
	return nil
}

// repairTimestamps дозаполняет метки, которых требует статус записи.
func repairTimestamps(db *gorm.DB, report *Report) error {
	now := time.Now()

	fix := func(cond string, args []interface{}, column, what string) error {
		var entries []models.QueueEntry
		if err := db.Where(cond, args...).Find(&entries).Error; err != nil {
			return apperr.Store("Ошибка поиска записей без метки", err)
		}
		for _, entry := range entries {
			report.issue("запись %d в статусе %s без метки %s", entry.ID, entry.Status, what)
			if err := db.Model(&models.QueueEntry{}).
				Where("id = ?", entry.ID).
				Update(column, now).Error; err != nil {
				return apperr.Store("Ошибка дозаполнения метки", err)
			}
			report.Fixed++
			log.Printf("Аудит: записи %d дозаполнена метка %s", entry.ID, what)
		}
		return nil
	}

	if err := fix("status = ? AND started_at IS NULL",
		[]interface{}{models.StatusActive}, "started_at", "started_at"); err != nil {
		return err
	}
	if err := fix("status IN ? AND completed_at IS NULL",
		[]interface{}{[]string{models.StatusCompleted, models.StatusCancelled}},
		"completed_at", "completed_at"); err != nil {
		return err
	}
	return fix("status = ? AND skipped_at IS NULL",
		[]interface{}{models.StatusSkipped}, "skipped_at", "skipped_at")
}

// auditStation чинит позиции одной станции и помечает дубли активных записей.
// Находки копятся в локальном отчёте попытки и вливаются в общий только после
// успешной фиксации: повтор транзакции после отката начинает счёт заново.
func auditStation(ctx context.Context, stationID uint, report *Report) error {
	var attempt *Report
	err := inTx(ctx, func(tx *gorm.DB) error {
		attempt = &Report{Valid: true, Issues: []string{}}

		entries, err := listWaiting(tx, stationID)
		if err != nil {
			return err
		}

		seen := map[int]bool{}
		broken := 0
		for _, e := range entries {
			switch {
			case e.Position <= 0:
				attempt.issue("станция %d: запись %d без корректной позиции (%d)", stationID, e.ID, e.Position)
				broken++
			case seen[e.Position]:
				attempt.issue("станция %d: дубль позиции %d (запись %d)", stationID, e.Position, e.ID)
				broken++
			default:
				seen[e.Position] = true
			}
		}
		// Разрывы нумерации ловим отдельно: все позиции валидны, но не 1..N.
		if broken == 0 {
			for i := 1; i <= len(entries); i++ {
				if !seen[i] {
					attempt.issue("станция %d: разрыв нумерации, нет позиции %d", stationID, i)
					broken++
				}
			}
		}

		if broken > 0 {
			arranged, err := reorderStation(tx, stationID)
			if err != nil {
				return err
			}
			attempt.Fixed += broken
			log.Printf("Аудит: станция %d — переназначено %d позиций (%d в очереди)",
				stationID, broken, len(arranged))
		}

		var activeCount int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("station_id = ? AND status = ?", stationID, models.StatusActive).
			Count(&activeCount).Error; err != nil {
			return apperr.Store("Ошибка подсчёта активных записей", err)
		}
		if activeCount > 1 {
			// Какую запись оставить — решение оператора, само не чинится.
			attempt.issue("станция %d: %d активных записей одновременно", stationID, activeCount)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !attempt.Valid {
		report.Valid = false
	}
	report.Issues = append(report.Issues, attempt.Issues...)
	report.Fixed += attempt.Fixed
	return nil
}

// ValidateStation — узкая проверка инвариантов одной станции без починки:
// дубли и разрывы позиций, согласованность с ключом (приоритет, время
// вступления), не больше одной активной записи.
func ValidateStation(ctx context.Context, stationID uint) (*Report, error) {
	if err := validateID(stationID, "INVALID_STATION_ID"); err != nil {
		return nil, err
	}
	report := &Report{Valid: true, Issues: []string{}}
	db := storage.DB.WithContext(ctx)

	if _, err := getStation(db, stationID); err != nil {
		return nil, err
	}

	var entries []models.QueueEntry
	if err := db.Where("station_id = ? AND status = ?", stationID, models.StatusWaiting).
		Order("position ASC").
		Find(&entries).Error; err != nil {
		return nil, apperr.Store("Ошибка загрузки очереди станции", err)
	}

	for i, e := range entries {
		if e.Position != i+1 {
			report.issue("позиции не образуют 1..N: на месте %d запись %d с позицией %d",
				i+1, e.ID, e.Position)
		}
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.PriorityScore > cur.PriorityScore ||
			(prev.PriorityScore == cur.PriorityScore && prev.JoinedAt.After(cur.JoinedAt)) {
			report.issue("порядок нарушен между записями %d и %d", prev.ID, cur.ID)
		}
	}

	var activeCount int64
	if err := db.Model(&models.QueueEntry{}).
		Where("station_id = ? AND status = ?", stationID, models.StatusActive).
		Count(&activeCount).Error; err != nil {
		return nil, apperr.Store("Ошибка подсчёта активных записей", err)
	}
	if activeCount > 1 {
		report.issue("%d активных записей одновременно", activeCount)
	}
	return report, nil
}
