package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"job_fair/internal/storage"
)

// Кэш длины очереди станции в Redis. Это подсказка для предварительной
// позиции при вступлении, не источник истины: авторитетную позицию всегда
// даёт пересчёт внутри транзакции. Промахи и устаревание кэша безвредны.

const hintTTL = 30 * time.Second

func hintKey(stationID uint) string {
	return fmt.Sprintf("station_len_%d", stationID)
}

// queueLenHint возвращает закэшированную длину очереди, либо -1.
func queueLenHint(ctx context.Context, stationID uint) int {
	if storage.RedisClient == nil {
		return -1
	}
	cached, err := storage.RedisClient.Get(ctx, hintKey(stationID)).Result()
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(cached)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func storeQueueLenHint(ctx context.Context, stationID uint, n int) {
	if storage.RedisClient == nil {
		return
	}
	storage.RedisClient.Set(ctx, hintKey(stationID), strconv.Itoa(n), hintTTL)
}
