package store

import (
	"errors"

	"farmlink/pkg/domain"
)

var (
	// ErrDuplicateBid is returned when a bidder already has a live bid on the
	// listing. The uniqueness constraint lives in storage so concurrent
	// submissions cannot race past a pre-check.
	ErrDuplicateBid = errors.New("bidder already has a live bid on this listing")
	// ErrDuplicateConversation is returned when a conversation for the same
	// unordered user pair already exists.
	ErrDuplicateConversation = errors.New("conversation for this pair already exists")
)

// ListingFilter narrows and orders listing queries. Filtering happens in the
// query layer, not over a fully fetched set.
type ListingFilter struct {
	Kind      domain.ListingKind
	TextQuery string
	MinPrice  *float64
	MaxPrice  *float64
	PriceDesc bool
}

// Store defines persistence operations for users, listings, bids,
// conversations, and messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// listings
	SaveListing(domain.Listing) error
	ListListings(ListingFilter) ([]domain.Listing, error)
	ListListingsByOwner(ownerID string) ([]domain.Listing, error)
	ListListingsByIDs(ids []string) ([]domain.Listing, error)
	GetListing(id string) (domain.Listing, bool, error)
	DeleteListing(id string) error

	// bids
	CreateBid(domain.Bid) error
	GetBid(id string) (domain.Bid, bool, error)
	SetBidStatus(id string, status domain.BidStatus) error
	DeleteBid(id string) error
	ListBidsByListing(listingID string) ([]domain.Bid, error)
	ListBidsByBidder(bidderID string) ([]domain.Bid, error)
	GetBidByListingAndBidder(listingID, bidderID string) (domain.Bid, bool, error)

	// conversations
	CreateConversation(conv domain.Conversation, pairKey string, memberIDs []string) error
	GetConversationByPairKey(pairKey string) (domain.Conversation, bool, error)
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByUser(userID string) ([]domain.Conversation, error)
	ListConversationMembers(conversationID string) ([]string, error)

	// messages
	AppendMessage(domain.Message) error
	ListMessages(conversationID string) ([]domain.Message, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
