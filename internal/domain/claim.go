package domain

import "time"

type ClaimStatus string

const (
	ClaimStatusPending   ClaimStatus = "pending"
	ClaimStatusConfirmed ClaimStatus = "confirmed"
	ClaimStatusFailed    ClaimStatus = "failed"
)

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusPending, ClaimStatusConfirmed, ClaimStatusFailed:
		return true
	}
	return false
}

// ClaimRequest records a claim that could not be executed live. Rows only move
// from pending to confirmed or failed.
type ClaimRequest struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	Address         string      `gorm:"size:42;index;not null" json:"address"`
	Amount          string      `gorm:"size:78;not null" json:"amount"`
	MerkleProof     []string    `gorm:"type:text;serializer:json" json:"merkleProof"`
	MerkleRoot      string      `gorm:"size:66" json:"merkleRoot"`
	Status          ClaimStatus `gorm:"size:16;index;not null" json:"status"`
	Attempts        int         `gorm:"not null;default:0" json:"attempts"`
	LastError       string      `gorm:"size:1024" json:"lastError,omitempty"`
	TransactionHash string      `gorm:"size:66" json:"transactionHash,omitempty"`
	Timestamp       time.Time   `gorm:"index;not null" json:"timestamp"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

func (ClaimRequest) TableName() string { return "claim_requests" }
