package models

import (
	"time"

	"gorm.io/gorm"
)

type Station struct {
	gorm.Model
	OrgName              string    `gorm:"not null"`            // Название компании
	Room                 string    `gorm:"index;not null"`      // Идентификатор комнаты (например "А-301")
	IsActive             bool      `gorm:"default:false;index"` // Флаг активности станции
	EstimatedSlotMinutes int       `gorm:"default:15"`          // Ориентировочная длительность одного собеседования
	ClosesAt             time.Time `gorm:"index"`               // Конец рабочего дня станции
}
