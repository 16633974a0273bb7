package domain

import "time"

// Session mirrors an issued wallet session token so that logout and verify can
// observe revocation. The token itself stays client-held.
type Session struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	WalletAddress  string     `gorm:"size:42;index;not null" json:"wallet_address"`
	TokenID        string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	SignatureProof string     `gorm:"size:64;not null" json:"-"`
	UserAgent      string     `gorm:"size:512" json:"user_agent"`
	IP             string     `gorm:"size:64" json:"ip"`
	IssuedAt       time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt      *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (Session) TableName() string { return "wallet_sessions" }

func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
