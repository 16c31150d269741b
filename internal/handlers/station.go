package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"job_fair/internal/models"
	"job_fair/internal/queue"
	"job_fair/internal/response"
	"job_fair/internal/storage"
	"job_fair/internal/ws"

	"github.com/gin-gonic/gin"
)

var snapshotCtx = context.Background()

// Срез состояния станции опрашивается фронтендом с коротким интервалом,
// поэтому кэшируется в Redis на пару секунд.
const snapshotTTL = 2 * time.Second

// StationStatusHandler возвращает срез состояния станции
// @Summary		Срез состояния станции
// @Description	Активное собеседование и упорядоченный список ожидающих; кэшируется в Redis
// @Tags			station
// @Produce		json
// @Param			id	path		string	true	"ID станции"
// @Success		200	{object}	queue.StationSnapshot	"Срез состояния"
// @Failure		400	{object}	response.ErrorResponse	"Неверный идентификатор (INVALID_STATION_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Станция не найдена (STATION_NOT_FOUND)"
// @Router			/api/stations/{id}/status [get]
func StationStatusHandler(c *gin.Context) {
	stationID, ok := paramID(c, "id", "INVALID_STATION_ID")
	if !ok {
		return
	}

	cacheKey := "station_snapshot_" + c.Param("id")
	if storage.RedisClient != nil {
		cached, err := storage.RedisClient.Get(snapshotCtx, cacheKey).Result()
		if err == nil && cached != "" {
			var snap queue.StationSnapshot
			if err := json.Unmarshal([]byte(cached), &snap); err == nil {
				c.JSON(http.StatusOK, snap)
				return
			}
		}
	}

	snap, err := queue.Snapshot(c.Request.Context(), stationID)
	if err != nil {
		writeErr(c, err)
		return
	}

	if storage.RedisClient != nil {
		if raw, err := json.Marshal(snap); err == nil {
			storage.RedisClient.Set(snapshotCtx, cacheKey, string(raw), snapshotTTL)
		}
	}

	c.JSON(http.StatusOK, snap)
}

// ValidateStationHandler проверяет инварианты очереди станции
// @Summary		Проверка инвариантов станции
// @Description	Проверяет позиции, порядок и единственность активной записи без починки
// @Tags			audit
// @Produce		json
// @Param			id	path		string	true	"ID станции"
// @Security		BearerAuth
// @Success		200	{object}	queue.Report	"Отчёт проверки"
// @Failure		404	{object}	response.ErrorResponse	"Станция не найдена (STATION_NOT_FOUND)"
// @Router			/api/stations/{id}/validate [get]
func ValidateStationHandler(c *gin.Context) {
	stationID, ok := paramID(c, "id", "INVALID_STATION_ID")
	if !ok {
		return
	}

	report, err := queue.ValidateStation(c.Request.Context(), stationID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// AuditHandler запускает пакетный аудит с починкой
// @Summary		Аудит и починка хранилища очередей
// @Description	Идемпотентный проход: чинит позиции, осиротевшие записи и отсутствующие метки
// @Tags			audit
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	queue.Report	"Отчёт аудита"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/admin/audit [post]
func AuditHandler(c *gin.Context) {
	report, err := queue.AuditAndRepair(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type CreateStationRequest struct {
	OrgName              string    `json:"org_name" binding:"required"`
	Room                 string    `json:"room" binding:"required"`
	EstimatedSlotMinutes int       `json:"estimated_slot_minutes"`
	ClosesAt             time.Time `json:"closes_at"`
}

// CreateStationHandler создаёт станцию
// @Summary		Создание станции
// @Tags			station
// @Accept			json
// @Produce		json
// @Param			body	body		CreateStationRequest	true	"Данные станции"
// @Security		BearerAuth
// @Success		201	{object}	response.Result	"Станция создана"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Router			/api/stations [post]
func CreateStationHandler(c *gin.Context) {
	var req CreateStationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
			Details: err.Error(),
		})
		return
	}

	slot := req.EstimatedSlotMinutes
	if slot <= 0 {
		slot = 15
	}
	station := models.Station{
		OrgName:              req.OrgName,
		Room:                 req.Room,
		IsActive:             true,
		EstimatedSlotMinutes: slot,
		ClosesAt:             req.ClosesAt,
	}
	if err := storage.DB.Create(&station).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка создания станции",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, response.Result{
		Success: true,
		Message: "Станция создана",
		Payload: gin.H{"station_id": station.ID},
	})
}

// ToggleStationHandler переключает флаг активности станции
// @Summary		Включение/выключение станции
// @Tags			station
// @Produce		json
// @Param			id	path		string	true	"ID станции"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Флаг переключён"
// @Failure		404	{object}	response.ErrorResponse	"Станция не найдена (STATION_NOT_FOUND)"
// @Router			/api/stations/{id}/toggle [post]
func ToggleStationHandler(c *gin.Context) {
	stationID, ok := paramID(c, "id", "INVALID_STATION_ID")
	if !ok {
		return
	}

	var station models.Station
	if err := storage.DB.First(&station, stationID).Error; err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "STATION_NOT_FOUND",
			Message: "Станция не найдена",
		})
		return
	}

	station.IsActive = !station.IsActive
	if err := storage.DB.Save(&station).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка обновления станции",
			Details: err.Error(),
		})
		return
	}

	if !station.IsActive {
		ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
			EventType: "station_closed",
			StationID: c.Param("id"),
			Data:      map[string]interface{}{},
		})
	}

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Флаг активности переключён",
		Payload: gin.H{"is_active": station.IsActive},
	})
}

// ListStationsHandler возвращает список станций
// @Summary		Список станций
// @Tags			station
// @Produce		json
// @Success		200	{array}	models.Station	"Список станций"
// @Router			/api/stations [get]
func ListStationsHandler(c *gin.Context) {
	var stations []models.Station
	if err := storage.DB.Order("org_name ASC").Find(&stations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки станций",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stations)
}
