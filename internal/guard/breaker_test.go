package guard

import (
	"testing"
	"time"

	"job_fair/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(clock *time.Time) *Breaker {
	b := NewBreaker(3, 2, time.Minute)
	b.now = func() time.Time { return *clock }
	return b
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(&clock)

	assert.NoError(t, b.Allow("join"))
	b.Failure("join")
	b.Failure("join")
	assert.NoError(t, b.Allow("join"), "до порога вызовы проходят")

	b.Failure("join")
	err := b.Allow("join")
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "CIRCUIT_OPEN", e.Code)
	assert.Equal(t, apperr.KindStore, e.Kind)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(&clock)

	b.Failure("join")
	b.Failure("join")
	b.Success("join")
	b.Failure("join")
	b.Failure("join")

	// Серия прервана успехом — предохранитель всё ещё закрыт.
	assert.NoError(t, b.Allow("join"))
}

func TestBreakerHalfOpenCycle(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(&clock)

	for i := 0; i < 3; i++ {
		b.Failure("join")
	}
	require.Error(t, b.Allow("join"))

	// После паузы — пробный режим.
	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, b.Allow("join"))

	// Сбой в пробном режиме открывает снова.
	b.Failure("join")
	require.Error(t, b.Allow("join"))

	// Закрытие только после серии успехов.
	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, b.Allow("join"))
	b.Success("join")
	assert.NoError(t, b.Allow("join"))
	b.Success("join")

	b.Failure("join")
	assert.NoError(t, b.Allow("join"), "один сбой после закрытия не открывает")
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(&clock)

	for i := 0; i < 3; i++ {
		b.Failure("join")
	}
	clock = clock.Add(2 * time.Minute)

	// В пробном режиме проходит не больше successThreshold вызовов,
	// пока допущенные не завершатся.
	assert.NoError(t, b.Allow("join"))
	assert.NoError(t, b.Allow("join"))
	err := b.Allow("join")
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "CIRCUIT_OPEN", e.Code)

	// Завершение пробного вызова освобождает место для следующего.
	b.Success("join")
	assert.NoError(t, b.Allow("join"))
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	clock := time.Now()
	b := newTestBreaker(&clock)

	for i := 0; i < 3; i++ {
		b.Failure("join")
	}
	require.Error(t, b.Allow("join"))
	assert.NoError(t, b.Allow("start"), "ключи операций независимы")
}
