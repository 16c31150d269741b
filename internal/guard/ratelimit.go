// Package guard — защитная обвязка операций очереди: лимит попыток на
// пользователя и предохранитель по имени операции. Оба механизма работают
// до обращения к базе и не подменяют транзакционных инвариантов ядра.
package guard

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/storage"

	"github.com/go-redis/redis/v8"
)

// Параметры лимита по умолчанию; переопределяются переменными окружения
// JOIN_RATE_LIMIT и JOIN_RATE_WINDOW_SEC.
const (
	defaultRateLimit  = 10
	defaultRateWindow = time.Minute
)

// RateLimiter — скользящее окно попыток на пользователя поверх Redis ZSET:
// метки попыток складываются в отсортированное множество, устаревшие
// вычищаются по левой границе окна. Состояние в Redis, поэтому лимит общий
// для всех экземпляров приложения.
type RateLimiter struct {
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window}
}

// NewRateLimiterFromEnv читает параметры из окружения.
func NewRateLimiterFromEnv() *RateLimiter {
	limit := defaultRateLimit
	if v, err := strconv.Atoi(os.Getenv("JOIN_RATE_LIMIT")); err == nil && v > 0 {
		limit = v
	}
	window := defaultRateWindow
	if v, err := strconv.Atoi(os.Getenv("JOIN_RATE_WINDOW_SEC")); err == nil && v > 0 {
		window = time.Duration(v) * time.Second
	}
	return NewRateLimiter(limit, window)
}

// Allow регистрирует попытку пользователя и отклоняет её сверх лимита.
// Недоступность Redis лимит не включает: защита рекомендательная.
func (rl *RateLimiter) Allow(ctx context.Context, op string, userID uint) error {
	if storage.RedisClient == nil {
		return nil
	}

	key := fmt.Sprintf("ratelimit_%s_%d", op, userID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := storage.RedisClient.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil
	}

	if int(count.Val()) >= rl.limit {
		return apperr.Validation("RATE_LIMITED",
			fmt.Sprintf("Слишком много попыток, не больше %d за %s", rl.limit, rl.window))
	}
	return nil
}
