package queue

import (
	"errors"

	"job_fair/internal/apperr"
	"job_fair/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Типизированные выборки над записями очереди. Все функции работают в
// транзакции вызывающего: tx — единственная точка сериализации.

// liveStatuses — статусы, в которых запись "занимает место" у пары
// (соискатель, станция).
var liveStatuses = []string{models.StatusWaiting, models.StatusActive}

func getUser(tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("USER_NOT_FOUND", "Пользователь не найден")
		}
		return nil, apperr.Store("Ошибка загрузки пользователя", err)
	}
	return &user, nil
}

// lockStation читает станцию с блокировкой FOR UPDATE — все мутации одной
// станции сериализуются на её строке.
func lockStation(tx *gorm.DB, id uint) (*models.Station, error) {
	var station models.Station
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&station, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("STATION_NOT_FOUND", "Станция не найдена")
		}
		return nil, apperr.Store("Ошибка загрузки станции", err)
	}
	return &station, nil
}

func getStation(tx *gorm.DB, id uint) (*models.Station, error) {
	var station models.Station
	if err := tx.First(&station, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("STATION_NOT_FOUND", "Станция не найдена")
		}
		return nil, apperr.Store("Ошибка загрузки станции", err)
	}
	return &station, nil
}

func getEntry(tx *gorm.DB, id uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := tx.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("ENTRY_NOT_FOUND", "Запись в очереди не найдена")
		}
		return nil, apperr.Store("Ошибка загрузки записи очереди", err)
	}
	return &entry, nil
}

// lockEntry перечитывает запись под блокировкой её строки. Вызывается после
// lockStation: предусловия перехода проверяются по этому свежему снимку, а не
// по чтению, сделанному до захвата станции. Порядок блокировок фиксирован:
// сначала станция, затем запись.
func lockEntry(tx *gorm.DB, id uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("ENTRY_NOT_FOUND", "Запись в очереди не найдена")
		}
		return nil, apperr.Store("Ошибка загрузки записи очереди", err)
	}
	return &entry, nil
}

// findLiveEntry возвращает живую (waiting/active) запись пары
// (соискатель, станция), либо nil.
func findLiveEntry(tx *gorm.DB, userID, stationID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := tx.Where("user_id = ? AND station_id = ? AND status IN ?", userID, stationID, liveStatuses).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("Ошибка поиска записи очереди", err)
	}
	return &entry, nil
}

// liveEntriesForUser возвращает все живые записи пользователя по всем
// станциям (со станциями) — для межстанционной проверки вступления.
func liveEntriesForUser(tx *gorm.DB, userID uint) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := tx.Preload("Station").
		Where("user_id = ? AND status IN ?", userID, liveStatuses).
		Find(&entries).Error; err != nil {
		return nil, apperr.Store("Ошибка загрузки записей пользователя", err)
	}
	return entries, nil
}

// listWaiting возвращает ожидающие записи станции в порядке ключа
// (приоритет, время вступления).
func listWaiting(tx *gorm.DB, stationID uint) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := tx.Where("station_id = ? AND status = ?", stationID, models.StatusWaiting).
		Order("priority_score ASC, joined_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, apperr.Store("Ошибка загрузки очереди станции", err)
	}
	return entries, nil
}

func countWaiting(tx *gorm.DB, stationID uint) (int64, error) {
	var n int64
	if err := tx.Model(&models.QueueEntry{}).
		Where("station_id = ? AND status = ?", stationID, models.StatusWaiting).
		Count(&n).Error; err != nil {
		return 0, apperr.Store("Ошибка подсчёта очереди станции", err)
	}
	return n, nil
}

// findActive возвращает активную запись станции, либо nil.
func findActive(tx *gorm.DB, stationID uint) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := tx.Where("station_id = ? AND status = ?", stationID, models.StatusActive).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("Ошибка поиска активной записи", err)
	}
	return &entry, nil
}
