package tasks

import (
	"context"
	"log"
	"strconv"
	"time"

	"job_fair/internal/models"
	"job_fair/internal/queue"
	"job_fair/internal/storage"
	"job_fair/internal/ws"

	"github.com/robfig/cron/v3"
)

// CloseExpiredStations деактивирует станции, чей рабочий день закончился,
// и отменяет оставшиеся в их очередях записи ожидания.
func CloseExpiredStations() {
	now := time.Now()

	// Нулевое значение closes_at означает "без ограничения по времени",
	// такие станции не закрываются.
	var stations []models.Station
	if err := storage.DB.
		Where("is_active = ? AND closes_at > ? AND closes_at < ?", true, time.Time{}, now).
		Find(&stations).Error; err != nil {
		log.Println("Ошибка поиска станций для закрытия:", err)
		return
	}

	for _, station := range stations {
		if err := storage.DB.Model(&models.Station{}).
			Where("id = ?", station.ID).
			Update("is_active", false).Error; err != nil {
			log.Println("Ошибка закрытия станции", station.OrgName, ":", err)
			continue
		}

		// Оставшихся в очереди отменяем: новых собеседований сегодня не будет.
		result := storage.DB.Model(&models.QueueEntry{}).
			Where("station_id = ? AND status = ?", station.ID, models.StatusWaiting).
			Updates(map[string]interface{}{
				"status":        models.StatusCancelled,
				"position":      0,
				"completed_at":  now,
				"cancel_reason": "станция закрыта",
			})
		if result.Error != nil {
			log.Println("Ошибка отмены записей станции", station.OrgName, ":", result.Error)
			continue
		}

		ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
			EventType: "station_closed",
			StationID: strconv.Itoa(int(station.ID)),
			Data:      map[string]interface{}{"cancelled": result.RowsAffected},
		})
		log.Printf("Станция '%s' закрыта, отменено записей: %d\n", station.OrgName, result.RowsAffected)
	}
}

// RunScheduledAudit запускает пакетный аудит согласованности очередей.
func RunScheduledAudit() {
	report, err := queue.AuditAndRepair(context.Background())
	if err != nil {
		log.Println("Ошибка планового аудита:", err)
		return
	}
	if report.Valid {
		log.Println("Плановый аудит: нарушений не найдено.")
		return
	}
	log.Printf("Плановый аудит: найдено проблем %d, исправлено %d\n", len(report.Issues), report.Fixed)
	for _, issue := range report.Issues {
		log.Println("  -", issue)
	}
}

// InitScheduler инициализирует планировщик cron-задач.
func InitScheduler() *cron.Cron {
	c := cron.New(cron.WithSeconds())

	// Закрытие отработавших станций каждые 5 минут.
	_, err := c.AddFunc("0 */5 * * * *", CloseExpiredStations)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи CloseExpiredStations:", err)
	}

	// Плановый аудит согласованности каждые 10 минут.
	_, err = c.AddFunc("0 */10 * * * *", RunScheduledAudit)
	if err != nil {
		log.Println("Ошибка запуска cron-задачи RunScheduledAudit:", err)
	}

	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c
}
