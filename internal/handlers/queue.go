package handlers

import (
	"net/http"
	"strconv"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/guard"
	"job_fair/internal/queue"
	"job_fair/internal/response"
	"job_fair/internal/ws"

	"github.com/gin-gonic/gin"
)

// Защитная обвязка операций: лимит попыток вступления и предохранитель по
// имени операции. Инициализируется из main после загрузки .env.
var (
	joinLimiter *guard.RateLimiter
	breaker     *guard.Breaker
)

// InitGuards настраивает лимитер и предохранитель.
func InitGuards() {
	joinLimiter = guard.NewRateLimiterFromEnv()
	breaker = guard.NewBreaker(5, 2, 30*time.Second)
}

// writeErr транслирует типизированную доменную ошибку в HTTP-ответ.
func writeErr(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Внутренняя ошибка сервера",
			Details: err.Error(),
		})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindStore:
		if e.Code == "CIRCUIT_OPEN" {
			status = http.StatusServiceUnavailable
		}
	}

	resp := response.ErrorResponse{
		Code:     e.Code,
		Message:  e.Message,
		Stations: e.Stations,
	}
	if e.Err != nil {
		resp.Details = e.Err.Error()
	}
	c.JSON(status, resp)
}

// guarded выполняет операцию под предохранителем. Сбоем считается только
// инфраструктурная ошибка хранилища: доменные отказы о здоровье базы
// ничего не говорят.
func guarded(op string, fn func() error) error {
	if err := breaker.Allow(op); err != nil {
		return err
	}
	err := fn()
	if err != nil && apperr.IsKind(err, apperr.KindStore) {
		breaker.Failure(op)
	} else {
		breaker.Success(op)
	}
	return err
}

func paramID(c *gin.Context, name, code string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    code,
			Message: "Неверный идентификатор",
		})
		return 0, false
	}
	return uint(id), true
}

type JoinRequest struct {
	EngagementType string `json:"engagement_type" binding:"required"`
}

// JoinStationHandler обрабатывает вступление в очередь станции
// @Summary		Вступление в очередь станции
// @Description	Ставит соискателя в очередь; позиция определяется приоритетом, а не порядком прихода
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID станции"
// @Param			body	body		JoinRequest	true	"Цель собеседования"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Успешное вступление с итоговой позицией"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_STATION_ID, STATION_INACTIVE, RATE_LIMITED)"
// @Failure		403	{object}	response.ErrorResponse	"Не соискатель (NOT_APPLICANT)"
// @Failure		404	{object}	response.ErrorResponse	"Станция не найдена (STATION_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Конфликт (ALREADY_IN_QUEUE, ACTIVE_ELSEWHERE, NEAR_FRONT_ELSEWHERE)"
// @Router			/api/stations/{id}/join [post]
func JoinStationHandler(c *gin.Context) {
	stationID, ok := paramID(c, "id", "INVALID_STATION_ID")
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Не указана цель собеседования",
			Details: err.Error(),
		})
		return
	}

	// Лимит попыток проверяется до любого похода в базу.
	if err := joinLimiter.Allow(c.Request.Context(), "join", userID); err != nil {
		writeErr(c, err)
		return
	}

	var result *queue.JoinResult
	err := guarded("join", func() error {
		var opErr error
		result, opErr = queue.Join(c.Request.Context(), userID, stationID, req.EngagementType)
		return opErr
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_joined",
		StationID: c.Param("id"),
		Data: map[string]interface{}{
			"user_id":  userID,
			"position": result.Position,
		},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Вступление в очередь прошло успешно",
		Payload: result,
	})
}

// LeaveEntryHandler обрабатывает выход из очереди
// @Summary		Выход из очереди
// @Description	Выводит соискателя из очереди ожидания и пересчитывает позиции
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Успешный выход"
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не в ожидании (WRONG_STATUS)"
// @Router			/api/entries/{id}/leave [post]
func LeaveEntryHandler(c *gin.Context) {
	entryID, ok := paramID(c, "id", "INVALID_ENTRY_ID")
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	entry, err := queue.Leave(c.Request.Context(), entryID, userID)
	if err != nil {
		writeErr(c, err)
		return
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_left",
		StationID: strconv.Itoa(int(entry.StationID)),
		Data:      map[string]interface{}{"user_id": userID},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Вы успешно вышли из очереди",
	})
}

// RescheduleEntryHandler переносит запись в конец её группы приоритета
// @Summary		Перенос в конец группы приоритета
// @Description	Сбрасывает время вступления; недоступен первому в очереди
// @Tags			queue
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Перенос выполнен, в ответе новая позиция"
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Первый в очереди или не в ожидании (FIRST_IN_LINE, WRONG_STATUS)"
// @Router			/api/entries/{id}/reschedule [post]
func RescheduleEntryHandler(c *gin.Context) {
	entryID, ok := paramID(c, "id", "INVALID_ENTRY_ID")
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	entry, err := queue.Reschedule(c.Request.Context(), entryID, userID)
	if err != nil {
		writeErr(c, err)
		return
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_rescheduled",
		StationID: strconv.Itoa(int(entry.StationID)),
		Data: map[string]interface{}{
			"user_id":  userID,
			"position": entry.Position,
		},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Запись перенесена в конец группы приоритета",
		Payload: gin.H{"position": entry.Position},
	})
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelEntryHandler отменяет запись
// @Summary		Отмена записи
// @Description	Отменяет запись в ожидании или активное собеседование
// @Tags			queue
// @Accept			json
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Param			body	body		CancelRequest	false	"Причина отмены"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Отмена выполнена"
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Терминальный статус (WRONG_STATUS)"
// @Router			/api/entries/{id}/cancel [post]
func CancelEntryHandler(c *gin.Context) {
	entryID, ok := paramID(c, "id", "INVALID_ENTRY_ID")
	if !ok {
		return
	}
	userID := c.GetUint("userID")

	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	entry, err := queue.Cancel(c.Request.Context(), entryID, userID, req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "user_left",
		StationID: strconv.Itoa(int(entry.StationID)),
		Data:      map[string]interface{}{"user_id": userID},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Запись отменена",
	})
}
