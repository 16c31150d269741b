package queue

import (
	"log"
	"os"
	"sort"

	"job_fair/internal/models"

	"gorm.io/gorm"
)

// OrderingStrategy определяет порядок обслуживания ожидающих записей станции.
// Arrange получает срез записей в произвольном порядке и возвращает их в
// порядке обслуживания; позиции 1..N присваиваются по этому порядку.
type OrderingStrategy interface {
	Arrange(entries []models.QueueEntry) []models.QueueEntry
}

// PriorityOrder — основная стратегия: сортировка по (приоритет, время
// вступления). При равенстве — по ID, чтобы порядок был детерминированным.
type PriorityOrder struct{}

func (PriorityOrder) Arrange(entries []models.QueueEntry) []models.QueueEntry {
	out := make([]models.QueueEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore < out[j].PriorityScore
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Полосы приоритета для чередующейся стратегии. Полоса восстанавливается из
// сохранённого приоритета записи, границы совпадают с базами internal/priority.
const (
	bandStaff    = iota // reviewer/operator
	bandInternal        // внутренние соискатели
	bandExternal        // внешние соискатели
)

func bandOf(e models.QueueEntry) int {
	switch {
	case e.PriorityScore < 200:
		return bandStaff
	case e.PriorityScore < 300:
		return bandInternal
	}
	return bandExternal
}

// TierInterleave — историческая стратегия: поверх приоритетной сортировки
// записи чередуются фиксированным шаблоном полос (по умолчанию 3 внутренних,
// 2 внешних, 2 прочих, по кругу). Включается через QUEUE_ORDER_STRATEGY.
type TierInterleave struct {
	// Pattern — повторяющийся шаблон: полоса и сколько записей из неё брать.
	Pattern []TierQuota
}

type TierQuota struct {
	Band  int
	Count int
}

// DefaultInterleave возвращает шаблон 3/2/2.
func DefaultInterleave() TierInterleave {
	return TierInterleave{Pattern: []TierQuota{
		{Band: bandInternal, Count: 3},
		{Band: bandExternal, Count: 2},
		{Band: bandStaff, Count: 2},
	}}
}

func (s TierInterleave) Arrange(entries []models.QueueEntry) []models.QueueEntry {
	sorted := PriorityOrder{}.Arrange(entries)

	// Внутри полосы порядок приоритетной сортировки сохраняется.
	byBand := map[int][]models.QueueEntry{}
	for _, e := range sorted {
		b := bandOf(e)
		byBand[b] = append(byBand[b], e)
	}

	out := make([]models.QueueEntry, 0, len(sorted))
	for len(out) < len(sorted) {
		taken := 0
		for _, q := range s.Pattern {
			for i := 0; i < q.Count && len(byBand[q.Band]) > 0; i++ {
				out = append(out, byBand[q.Band][0])
				byBand[q.Band] = byBand[q.Band][1:]
				taken++
			}
		}
		if taken == 0 {
			// Шаблон не покрывает оставшиеся полосы — добираем по приоритету.
			for _, e := range sorted {
				if !containsEntry(out, e.ID) {
					out = append(out, e)
				}
			}
			break
		}
	}
	return out
}

func containsEntry(entries []models.QueueEntry, id uint) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

// strategy — активная стратегия упорядочивания. По умолчанию приоритетная
// сортировка; чередование — опция, включаемая конфигурацией.
var strategy OrderingStrategy = PriorityOrder{}

// SetStrategy подменяет стратегию (используется в тестах и при старте).
func SetStrategy(s OrderingStrategy) {
	strategy = s
}

// InitStrategyFromEnv выбирает стратегию по QUEUE_ORDER_STRATEGY.
func InitStrategyFromEnv() {
	switch os.Getenv("QUEUE_ORDER_STRATEGY") {
	case "interleave":
		strategy = DefaultInterleave()
		log.Println("Стратегия очереди: чередование полос (3/2/2)")
	default:
		strategy = PriorityOrder{}
	}
}

// reorderStation пересчитывает позиции ожидающих записей станции по активной
// стратегии и записывает только изменившиеся строки. Вызывается внутри той же
// транзакции, что и вызвавшая мутация: зафиксированная мутация без
// согласованного пересчёта — ошибка корректности, а не допустимое
// промежуточное состояние.
func reorderStation(tx *gorm.DB, stationID uint) ([]models.QueueEntry, error) {
	entries, err := listWaiting(tx, stationID)
	if err != nil {
		return nil, err
	}

	arranged := strategy.Arrange(entries)
	for i := range arranged {
		want := i + 1
		if arranged[i].Position == want {
			continue
		}
		if err := tx.Model(&models.QueueEntry{}).
			Where("id = ?", arranged[i].ID).
			Update("position", want).Error; err != nil {
			return nil, err
		}
		arranged[i].Position = want
	}
	return arranged, nil
}
