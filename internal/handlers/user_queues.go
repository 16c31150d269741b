package handlers

import (
	"net/http"

	"job_fair/internal/queue"

	"github.com/gin-gonic/gin"
)

// MyQueuesHandler godoc
// @Summary		Получение списка своих очередей
// @Description	Живые записи пользователя по всем станциям: ожидание и активные собеседования
// @Tags			profile
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		queue.MembershipItem	"Список участий в очередях"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/profile/queues [get]
func MyQueuesHandler(c *gin.Context) {
	userID := c.GetUint("userID")

	items, err := queue.Memberships(c.Request.Context(), userID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}
