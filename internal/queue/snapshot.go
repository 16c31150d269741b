package queue

import (
	"context"
	"time"

	"job_fair/internal/apperr"
	"job_fair/internal/models"
	"job_fair/internal/storage"
)

// Проекции только для чтения: слой представления опрашивает их с коротким
// интервалом, состояние они не меняют.

type SnapshotParticipant struct {
	EntryID        uint   `json:"entry_id"`
	UserID         uint   `json:"user_id"`
	Name           string `json:"name"`
	Surname        string `json:"surname"`
	Position       int    `json:"position"`
	PriorityScore  int    `json:"priority_score"`
	EngagementType string `json:"engagement_type"`
	WaitMinutes    int    `json:"wait_minutes"` // оценка: позиция × длительность слота
}

type ActiveInterview struct {
	EntryID   uint      `json:"entry_id"`
	UserID    uint      `json:"user_id"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	StartedAt time.Time `json:"started_at"`
}

// StationSnapshot — срез состояния станции: активное собеседование плюс
// упорядоченный список ожидающих.
type StationSnapshot struct {
	StationID    uint                  `json:"station_id"`
	OrgName      string                `json:"org_name"`
	Room         string                `json:"room"`
	IsActive     bool                  `json:"is_active"`
	Active       *ActiveInterview      `json:"active,omitempty"`
	Waiting      []SnapshotParticipant `json:"waiting"`
	WaitingCount int                   `json:"waiting_count"`
}

// Snapshot собирает срез состояния станции.
func Snapshot(ctx context.Context, stationID uint) (*StationSnapshot, error) {
	if err := validateID(stationID, "INVALID_STATION_ID"); err != nil {
		return nil, err
	}
	db := storage.DB.WithContext(ctx)

	station, err := getStation(db, stationID)
	if err != nil {
		return nil, err
	}

	snap := StationSnapshot{
		StationID: station.ID,
		OrgName:   station.OrgName,
		Room:      station.Room,
		IsActive:  station.IsActive,
		Waiting:   []SnapshotParticipant{},
	}

	var active models.QueueEntry
	err = db.Preload("User").
		Where("station_id = ? AND status = ?", stationID, models.StatusActive).
		First(&active).Error
	if err == nil && active.StartedAt != nil {
		snap.Active = &ActiveInterview{
			EntryID:   active.ID,
			UserID:    active.UserID,
			Name:      active.User.Name,
			Surname:   active.User.Surname,
			StartedAt: *active.StartedAt,
		}
	}

	var waiting []models.QueueEntry
	if err := db.Preload("User").
		Where("station_id = ? AND status = ?", stationID, models.StatusWaiting).
		Order("position ASC").
		Find(&waiting).Error; err != nil {
		return nil, apperr.Store("Ошибка загрузки очереди станции", err)
	}

	for _, e := range waiting {
		snap.Waiting = append(snap.Waiting, SnapshotParticipant{
			EntryID:        e.ID,
			UserID:         e.UserID,
			Name:           e.User.Name,
			Surname:        e.User.Surname,
			Position:       e.Position,
			PriorityScore:  e.PriorityScore,
			EngagementType: e.EngagementType,
			WaitMinutes:    e.Position * station.EstimatedSlotMinutes,
		})
	}
	snap.WaitingCount = len(snap.Waiting)

	return &snap, nil
}

// MembershipItem — участие соискателя в одной очереди.
type MembershipItem struct {
	EntryID   uint       `json:"entry_id"`
	StationID uint       `json:"station_id"`
	OrgName   string     `json:"org_name"`
	Room      string     `json:"room"`
	Status    string     `json:"status"`
	Position  int        `json:"position,omitempty"`
	JoinedAt  time.Time  `json:"joined_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Memberships возвращает живые записи пользователя по всем станциям.
func Memberships(ctx context.Context, userID uint) ([]MembershipItem, error) {
	if err := validateID(userID, "INVALID_USER_ID"); err != nil {
		return nil, err
	}

	entries, err := liveEntriesForUser(storage.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}

	items := make([]MembershipItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, MembershipItem{
			EntryID:   e.ID,
			StationID: e.StationID,
			OrgName:   e.Station.OrgName,
			Room:      e.Station.Room,
			Status:    e.Status,
			Position:  e.Position,
			JoinedAt:  e.JoinedAt,
			StartedAt: e.StartedAt,
		})
	}
	return items, nil
}
