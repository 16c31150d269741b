package queue

import (
	"testing"
	"time"

	"job_fair/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryWith(id uint, score int, joinedAt time.Time) models.QueueEntry {
	e := models.QueueEntry{
		Status:        models.StatusWaiting,
		PriorityScore: score,
		JoinedAt:      joinedAt,
	}
	e.ID = id
	return e
}

func TestPriorityOrderDeterminism(t *testing.T) {
	t1 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	// Приоритет 300 пришёл первым, но две записи с 200 обгоняют его;
	// между собой они упорядочены временем вступления.
	entries := []models.QueueEntry{
		entryWith(1, 300, t1),
		entryWith(2, 200, t2),
		entryWith(3, 200, t3),
	}

	arranged := PriorityOrder{}.Arrange(entries)
	require.Len(t, arranged, 3)
	assert.Equal(t, uint(2), arranged[0].ID)
	assert.Equal(t, uint(3), arranged[1].ID)
	assert.Equal(t, uint(1), arranged[2].ID)

	// Исходный срез не мутируется.
	assert.Equal(t, uint(1), entries[0].ID)
}

func TestPriorityOrderTieBreakByID(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{
		entryWith(7, 200, at),
		entryWith(4, 200, at),
	}

	arranged := PriorityOrder{}.Arrange(entries)
	assert.Equal(t, uint(4), arranged[0].ID)
	assert.Equal(t, uint(7), arranged[1].ID)
}

func TestTierInterleavePattern(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	var entries []models.QueueEntry
	// 5 внутренних (200-е значения), 4 внешних (300-е), 3 из полосы персонала.
	for i := 0; i < 5; i++ {
		entries = append(entries, entryWith(uint(10+i), 200, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 4; i++ {
		entries = append(entries, entryWith(uint(20+i), 300, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 3; i++ {
		entries = append(entries, entryWith(uint(30+i), 100, base.Add(time.Duration(i)*time.Minute)))
	}

	arranged := DefaultInterleave().Arrange(entries)
	require.Len(t, arranged, 12)

	ids := make([]uint, len(arranged))
	for i, e := range arranged {
		ids[i] = e.ID
	}
	// Шаблон 3/2/2: три внутренних, два внешних, два персонала, затем по кругу.
	assert.Equal(t, []uint{10, 11, 12, 20, 21, 30, 31, 13, 14, 22, 23, 32}, ids)
}

func TestTierInterleaveKeepsOrderInsideBand(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{
		entryWith(2, 210, base.Add(time.Minute)),
		entryWith(1, 205, base),
		entryWith(3, 200, base.Add(2*time.Minute)),
	}

	arranged := DefaultInterleave().Arrange(entries)
	// Одна полоса — чистый приоритетный порядок.
	assert.Equal(t, uint(3), arranged[0].ID)
	assert.Equal(t, uint(1), arranged[1].ID)
	assert.Equal(t, uint(2), arranged[2].ID)
}

func TestInterleaveEmptyInput(t *testing.T) {
	assert.Empty(t, DefaultInterleave().Arrange(nil))
	assert.Empty(t, PriorityOrder{}.Arrange(nil))
}
