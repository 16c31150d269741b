package guard

import (
	"log"
	"sync"
	"time"

	"job_fair/internal/apperr"
)

// Состояния предохранителя.
const (
	stateClosed = iota
	stateOpen
	stateHalfOpen
)

// Breaker — предохранитель, ключуемый именем операции. Закрытый пропускает
// всё; после порога последовательных сбоев открывается и отвечает отказом
// сразу; по прошествии паузы приоткрывается для пробных вызовов и
// закрывается снова только после серии успехов.
type Breaker struct {
	mu sync.Mutex

	failThreshold    int           // сбоев подряд до открытия
	successThreshold int           // успехов подряд в half-open до закрытия
	cooldown         time.Duration // пауза в открытом состоянии

	now func() time.Time // подменяется в тестах

	ops map[string]*breakerState
}

type breakerState struct {
	state     int
	failures  int
	successes int
	probes    int // допущенные пробные вызовы в half-open
	openedAt  time.Time
}

func NewBreaker(failThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failThreshold:    failThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		ops:              make(map[string]*breakerState),
	}
}

// Allow решает, пропускать ли вызов операции op.
func (b *Breaker) Allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(op)
	switch st.state {
	case stateOpen:
		if b.now().Sub(st.openedAt) >= b.cooldown {
			st.state = stateHalfOpen
			st.successes = 0
			st.probes = 1
			log.Printf("Предохранитель %s: пробный режим", op)
			return nil
		}
		return openErr()
	case stateHalfOpen:
		// В пробном режиме допускается не больше successThreshold вызовов:
		// поток запросов не должен прорываться к хранилищу до закрытия.
		if st.probes >= b.successThreshold {
			return openErr()
		}
		st.probes++
		return nil
	default:
		return nil
	}
}

func openErr() *apperr.Error {
	return &apperr.Error{
		Kind:    apperr.KindStore,
		Code:    "CIRCUIT_OPEN",
		Message: "Операция временно недоступна, попробуйте позже",
	}
}

// Success фиксирует удачный вызов операции.
func (b *Breaker) Success(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(op)
	switch st.state {
	case stateHalfOpen:
		if st.probes > 0 {
			st.probes--
		}
		st.successes++
		if st.successes >= b.successThreshold {
			st.state = stateClosed
			st.failures = 0
			st.probes = 0
			log.Printf("Предохранитель %s: закрыт", op)
		}
	case stateClosed:
		st.failures = 0
	}
}

// Failure фиксирует сбой. Учитываются только инфраструктурные сбои —
// доменные отказы детерминированы и о здоровье хранилища не говорят.
func (b *Breaker) Failure(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateFor(op)
	switch st.state {
	case stateHalfOpen:
		b.trip(op, st)
	case stateClosed:
		st.failures++
		if st.failures >= b.failThreshold {
			b.trip(op, st)
		}
	}
}

func (b *Breaker) trip(op string, st *breakerState) {
	st.state = stateOpen
	st.openedAt = b.now()
	st.successes = 0
	st.probes = 0
	log.Printf("Предохранитель %s: открыт", op)
}

func (b *Breaker) stateFor(op string) *breakerState {
	st, ok := b.ops[op]
	if !ok {
		st = &breakerState{state: stateClosed}
		b.ops[op] = st
	}
	return st
}
