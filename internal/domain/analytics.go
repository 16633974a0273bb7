package domain

import "time"

type AnalyticsSession struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Address    string    `gorm:"size:42;index" json:"address,omitempty"`
	UserAgent  string    `gorm:"size:512" json:"userAgent,omitempty"`
	FirstSeen  time.Time `gorm:"index;not null" json:"firstSeen"`
	LastSeen   time.Time `gorm:"index;not null" json:"lastSeen"`
	EventCount int64     `gorm:"not null;default:0" json:"eventCount"`
}

type AnalyticsEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:36;index" json:"sessionId,omitempty"`
	Address    string    `gorm:"size:42;index" json:"address,omitempty"`
	EventType  string    `gorm:"size:64;index;not null" json:"eventType"`
	Path       string    `gorm:"size:512" json:"path,omitempty"`
	Metadata   Metadata  `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurredAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

type EventTypeCount struct {
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}
