package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы записи в очереди.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// Цели собеседования.
const (
	EngagementAcademicProject = "academic_project" // курсовая/дипломный проект
	EngagementInternship      = "internship"
	EngagementEmployment      = "employment"
	EngagementObservation     = "observation" // ознакомительная беседа
)

// QueueEntry — запись участия соискателя в очереди станции.
// Position имеет смысл только при Status == waiting и поддерживается
// пересчётом позиций после каждой мутации.
type QueueEntry struct {
	gorm.Model
	UserID         uint    `gorm:"index;not null"`
	User           User    `gorm:"foreignKey:UserID"`
	StationID      uint    `gorm:"index;not null"`
	Station        Station `gorm:"foreignKey:StationID"`
	Status         string  `gorm:"index;not null;default:waiting"`
	Position       int     `gorm:"index"` // Текущая позиция в очереди (только для waiting)
	PriorityScore  int     `gorm:"index;not null"`
	EngagementType string  `gorm:"not null"`
	JoinedAt       time.Time  `gorm:"index;not null"` // Сбрасывается при переносе в конец своей группы приоритета
	StartedAt      *time.Time // Момент начала собеседования
	CompletedAt    *time.Time // Момент завершения (completed или cancelled)
	SkippedAt      *time.Time // Момент пропуска
	CancelReason   string
}

// EngagementKnown сообщает, относится ли цель собеседования к известным категориям.
func EngagementKnown(t string) bool {
	switch t {
	case EngagementAcademicProject, EngagementInternship, EngagementEmployment, EngagementObservation:
		return true
	}
	return false
}
