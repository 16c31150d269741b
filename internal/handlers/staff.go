package handlers

import (
	"net/http"
	"strconv"

	"job_fair/internal/queue"
	"job_fair/internal/response"
	"job_fair/internal/ws"

	"github.com/gin-gonic/gin"
)

// Операции персонала станции: запуск, завершение, пропуск собеседования и
// составная операция "следующий". Привязка оператора к комнате станции
// перепроверяется в сервисном слое.

// StartEntryHandler запускает собеседование
// @Summary		Начало собеседования
// @Description	Переводит запись из ожидания в активную; на станции может идти только одно собеседование
// @Tags			staff
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Собеседование начато"
// @Failure		403	{object}	response.ErrorResponse	"Не персонал или чужая комната (NOT_STAFF, WRONG_ROOM)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Станция занята или запись не в ожидании (STATION_BUSY, WRONG_STATUS)"
// @Router			/api/entries/{id}/start [post]
func StartEntryHandler(c *gin.Context) {
	entryID, ok := paramID(c, "id", "INVALID_ENTRY_ID")
	if !ok {
		return
	}
	operatorID := c.GetUint("userID")

	var stationID, userID uint
	err := guarded("start", func() error {
		started, opErr := queue.Start(c.Request.Context(), entryID, operatorID)
		if opErr != nil {
			return opErr
		}
		stationID, userID = started.StationID, started.UserID
		return nil
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: "interview_started",
		StationID: strconv.Itoa(int(stationID)),
		Data:      map[string]interface{}{"user_id": userID},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: "Собеседование начато",
	})
}

// EndEntryHandler завершает собеседование
// @Summary		Завершение собеседования
// @Tags			staff
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Собеседование завершено"
// @Failure		403	{object}	response.ErrorResponse	"Не персонал или чужая комната (NOT_STAFF, WRONG_ROOM)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не активна (WRONG_STATUS)"
// @Router			/api/entries/{id}/end [post]
func EndEntryHandler(c *gin.Context) {
	finishEntry(c, "end")
}

// SkipEntryHandler помечает собеседование пропущенным
// @Summary		Пропуск собеседования
// @Tags			staff
// @Produce		json
// @Param			id	path		string	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Собеседование пропущено"
// @Failure		403	{object}	response.ErrorResponse	"Не персонал или чужая комната (NOT_STAFF, WRONG_ROOM)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не активна (WRONG_STATUS)"
// @Router			/api/entries/{id}/skip [post]
func SkipEntryHandler(c *gin.Context) {
	finishEntry(c, "skip")
}

func finishEntry(c *gin.Context, op string) {
	entryID, ok := paramID(c, "id", "INVALID_ENTRY_ID")
	if !ok {
		return
	}
	operatorID := c.GetUint("userID")

	var stationID, userID uint
	err := guarded(op, func() error {
		var opErr error
		if op == "end" {
			finished, e := queue.End(c.Request.Context(), entryID, operatorID)
			if e == nil {
				stationID, userID = finished.StationID, finished.UserID
			}
			opErr = e
		} else {
			finished, e := queue.Skip(c.Request.Context(), entryID, operatorID)
			if e == nil {
				stationID, userID = finished.StationID, finished.UserID
			}
			opErr = e
		}
		return opErr
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	eventType := "interview_finished"
	message := "Собеседование завершено"
	if op == "skip" {
		eventType = "user_skipped"
		message = "Собеседование пропущено"
	}

	ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
		EventType: eventType,
		StationID: strconv.Itoa(int(stationID)),
		Data:      map[string]interface{}{"user_id": userID},
	})

	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: message,
	})
}

// NextHandler вызывает следующего соискателя
// @Summary		Следующий соискатель
// @Description	Пропускает текущее активное собеседование (если есть) и запускает первое ожидающее
// @Tags			staff
// @Produce		json
// @Param			id	path		string	true	"ID станции"
// @Security		BearerAuth
// @Success		200	{object}	response.Result	"Следующий вызван, либо очередь пуста"
// @Failure		403	{object}	response.ErrorResponse	"Не персонал или чужая комната (NOT_STAFF, WRONG_ROOM)"
// @Failure		404	{object}	response.ErrorResponse	"Станция не найдена (STATION_NOT_FOUND)"
// @Router			/api/stations/{id}/next [post]
func NextHandler(c *gin.Context) {
	stationID, ok := paramID(c, "id", "INVALID_STATION_ID")
	if !ok {
		return
	}
	operatorID := c.GetUint("userID")

	var result *queue.NextResult
	err := guarded("next", func() error {
		var opErr error
		result, opErr = queue.AdvanceToNext(c.Request.Context(), stationID, operatorID)
		return opErr
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	if result.Skipped != nil {
		ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
			EventType: "user_skipped",
			StationID: c.Param("id"),
			Data:      map[string]interface{}{"user_id": result.Skipped.UserID},
		})
	}
	if result.Started != nil {
		ws.HubInstance.BroadcastWSMessage(ws.WSMessage{
			EventType: "interview_started",
			StationID: c.Param("id"),
			Data:      map[string]interface{}{"user_id": result.Started.UserID},
		})
	}

	message := "Следующий соискатель вызван"
	if result.NoWaiting {
		message = "Ожидающих в очереди нет"
	}
	c.JSON(http.StatusOK, response.Result{
		Success: true,
		Message: message,
		Payload: result,
	})
}
