package domain

import "time"

// ProfileRecord is the database mirror of a wallet's registration and claim state.
// Address is stored lower-case and is the primary key.
type ProfileRecord struct {
	Address        string     `gorm:"primaryKey;size:42" json:"address"`
	TokenID        *string    `gorm:"size:78" json:"tokenId,omitempty"`
	BaseAmount     string     `gorm:"size:78;not null;default:'0'" json:"baseAmount"`
	BonusAmount    string     `gorm:"size:78;not null;default:'0'" json:"bonusAmount"`
	Claimed        bool       `gorm:"not null;default:false;index" json:"claimed"`
	ClaimTimestamp *time.Time `json:"claimTimestamp,omitempty"`
	Metadata       Metadata   `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (ProfileRecord) TableName() string { return "profile_records" }
