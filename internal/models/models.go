package models

import (
	"gorm.io/gorm"
)

// Роли пользователей системы.
const (
	RoleApplicant = "applicant" // соискатель, встаёт в очереди
	RoleReviewer  = "reviewer"  // интервьюер компании
	RoleOperator  = "operator"  // оператор зала, управляет станцией
)

// Категории соискателей.
const (
	TierInternal = "internal" // студент/сотрудник вуза-организатора
	TierExternal = "external" // внешний участник
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Surname      string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"index;not null;default:applicant"` // applicant / reviewer / operator
	Tier         string // internal / external, только для соискателей
	Room         string `gorm:"index"` // Привязка сотрудника к комнате станции (reviewer/operator)
}

// IsStaff сообщает, может ли пользователь управлять собеседованиями станции.
func (u *User) IsStaff() bool {
	return u.Role == RoleReviewer || u.Role == RoleOperator
}
