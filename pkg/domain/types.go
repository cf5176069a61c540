package domain

import "time"

type ListingKind string

const (
	// KindOffer is a produce offer posted by a farmer.
	KindOffer ListingKind = "farmer"
	// KindRequest is a produce request posted by a consumer.
	KindRequest ListingKind = "consumer"
)

type BidKind string

const (
	BidAccept  BidKind = "accept"
	BidCounter BidKind = "counter"
)

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Avatar       string    `json:"avatar,omitempty"`
	Contact      string    `json:"contact,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the public view of a user.
type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Contact     string `json:"contact,omitempty"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Contact:     u.Contact,
	}
}

type Listing struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	Kind        ListingKind `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Unit        string      `json:"unit"`
	Icon        string      `json:"icon,omitempty"`
	Images      []string    `json:"images,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type Bid struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listingId"`
	BidderID    string    `json:"bidderId"`
	BidderEmail string    `json:"bidderEmail,omitempty"`
	Amount      float64   `json:"amount"`
	Kind        BidKind   `json:"kind"`
	Status      BidStatus `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary is a conversation plus the other party, for the sidebar.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Peer      Profile   `json:"peer"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"createdAt"`
}

type NewsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}
