// Package priority вычисляет приоритет соискателя в очереди станции.
// Меньшее значение — раньше обслуживание. Функция чистая: никакой базы,
// только атрибуты пользователя и цель собеседования.
package priority

import "job_fair/internal/models"

// Базовая составляющая по роли и категории.
const (
	baseReviewer          = 0
	baseOperator          = 100
	baseInternalApplicant = 200
	baseExternalApplicant = 300
)

// Модификатор по цели собеседования. Неизвестная цель получает худший
// модификатор, а не ошибку — вступление в очередь не должно падать
// из-за классификации.
const (
	modAcademicProject = 0
	modInternship      = 5
	modEmployment      = 10
	modObservation     = 20
	modUnknown         = 30
)

// Score возвращает приоритет записи. Приоритет — это порядок обслуживания,
// не проверка прав: решение "можно ли вообще встать в очередь" принимает
// сервисный слой.
func Score(role, tier, engagementType string) int {
	return base(role, tier) + modifier(engagementType)
}

func base(role, tier string) int {
	switch role {
	case models.RoleReviewer:
		return baseReviewer
	case models.RoleOperator:
		return baseOperator
	}
	// Соискатель: категория решает.
	if tier == models.TierInternal {
		return baseInternalApplicant
	}
	return baseExternalApplicant
}

func modifier(engagementType string) int {
	switch engagementType {
	case models.EngagementAcademicProject:
		return modAcademicProject
	case models.EngagementInternship:
		return modInternship
	case models.EngagementEmployment:
		return modEmployment
	case models.EngagementObservation:
		return modObservation
	}
	return modUnknown
}
