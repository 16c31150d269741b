package storage

import (
	"job_fair/internal/models"
)

// Migrate прогоняет автомиграцию схемы и создаёт частичные уникальные индексы,
// на которых держатся инварианты очереди. Проверки "существует ли запись" в
// коде сервиса не атомарны между двумя конкурентными транзакциями, поэтому
// единственность обеспечивается на уровне базы:
//
//   - у пары (user, station) не больше одной живой записи (waiting/active);
//   - у станции не больше одной записи в статусе active.
//
// Нарушение индекса при вставке/обновлении превращается в ConflictError.
func Migrate() error {
	if err := DB.AutoMigrate(&models.User{}, &models.Station{}, &models.QueueEntry{}); err != nil {
		return err
	}

	if err := DB.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_live_entry_per_station
		ON queue_entries (user_id, station_id)
		WHERE status IN ('waiting', 'active') AND deleted_at IS NULL`).Error; err != nil {
		return err
	}

	if err := DB.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_per_station
		ON queue_entries (station_id)
		WHERE status = 'active' AND deleted_at IS NULL`).Error; err != nil {
		return err
	}

	return nil
}
