package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	DisplayName  string `gorm:"not null"`
	AvatarBase64 string `gorm:"type:text"`
	Contact      string
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ListingModel struct {
	ID          string    `gorm:"primaryKey"`
	OwnerID     string    `gorm:"not null;index"`
	Kind        string    `gorm:"not null;index"`
	Title       string    `gorm:"not null"`
	Description string    `gorm:"type:text;not null"`
	Price       float64   `gorm:"not null"`
	Unit        string
	IconBase64  string         `gorm:"type:text"`
	Images      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}

// BidModel carries the live-bid invariant: one row per (listing, bidder).
type BidModel struct {
	ID          string `gorm:"primaryKey"`
	ListingID   string `gorm:"not null;uniqueIndex:idx_bids_listing_bidder"`
	BidderID    string `gorm:"not null;uniqueIndex:idx_bids_listing_bidder"`
	BidderEmail string
	Amount      float64   `gorm:"not null"`
	Kind        string    `gorm:"not null"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

// ConversationModel keys each conversation by the unordered member pair so
// concurrent get-or-create collapses to a single row.
type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	PairKey   string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type ConversationMemberModel struct {
	ConversationID string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey;index"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	SenderID       string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	Type           string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
