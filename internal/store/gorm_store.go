package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"farmlink/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ListingModel{},
		&BidModel{},
		&ConversationModel{},
		&ConversationMemberModel{},
		&MessageModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "avatar_base64", "contact", "password_hash", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveListing stores a listing.
func (s *GormStore) SaveListing(l domain.Listing) error {
	model, err := listingToModel(l)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListListings applies filter and price ordering in the query layer.
func (s *GormStore) ListListings(filter ListingFilter) ([]domain.Listing, error) {
	tx := s.db.Model(&ListingModel{})
	if filter.Kind != "" {
		tx = tx.Where("kind = ?", string(filter.Kind))
	}
	if q := strings.TrimSpace(filter.TextQuery); q != "" {
		tx = tx.Where("title ILIKE ?", "%"+q+"%")
	}
	if filter.MinPrice != nil {
		tx = tx.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		tx = tx.Where("price <= ?", *filter.MaxPrice)
	}
	order := "price ASC"
	if filter.PriceDesc {
		order = "price DESC"
	}
	var models []ListingModel
	if err := tx.Order(order).Find(&models).Error; err != nil {
		return nil, err
	}
	return listingsFromModels(models)
}

// ListListingsByOwner returns a user's listings, newest first.
func (s *GormStore) ListListingsByOwner(ownerID string) ([]domain.Listing, error) {
	var models []ListingModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return listingsFromModels(models)
}

// ListListingsByIDs returns listings matching the given IDs.
func (s *GormStore) ListListingsByIDs(ids []string) ([]domain.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []ListingModel
	if err := s.db.Where("id IN ?", ids).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return listingsFromModels(models)
}

// GetListing retrieves a listing.
func (s *GormStore) GetListing(id string) (domain.Listing, bool, error) {
	var model ListingModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Listing{}, false, nil
		}
		return domain.Listing{}, false, err
	}
	listing, err := listingFromModel(model)
	if err != nil {
		return domain.Listing{}, false, err
	}
	return listing, true, nil
}

// DeleteListing removes the listing and its bids.
func (s *GormStore) DeleteListing(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&BidModel{}, "listing_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ListingModel{}, "id = ?", id).Error
	})
}

// CreateBid inserts a pending bid. The composite unique index turns a
// concurrent duplicate into ErrDuplicateBid instead of a second live bid.
func (s *GormStore) CreateBid(b domain.Bid) error {
	model := bidToModel(b)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateBid
		}
		return err
	}
	return nil
}

// GetBid retrieves a bid.
func (s *GormStore) GetBid(id string) (domain.Bid, bool, error) {
	var model BidModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Bid{}, false, nil
		}
		return domain.Bid{}, false, err
	}
	return bidFromModel(model), true, nil
}

// SetBidStatus updates a bid's status.
func (s *GormStore) SetBidStatus(id string, status domain.BidStatus) error {
	return s.db.Model(&BidModel{}).Where("id = ?", id).Update("status", string(status)).Error
}

// DeleteBid removes a bid entirely; withdrawal leaves no trace.
func (s *GormStore) DeleteBid(id string) error {
	return s.db.Delete(&BidModel{}, "id = ?", id).Error
}

// ListBidsByListing returns bids ordered by creation time ascending.
func (s *GormStore) ListBidsByListing(listingID string) ([]domain.Bid, error) {
	var models []BidModel
	if err := s.db.Where("listing_id = ?", listingID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Bid, 0, len(models))
	for _, m := range models {
		res = append(res, bidFromModel(m))
	}
	return res, nil
}

// ListBidsByBidder returns all bids placed by a user.
func (s *GormStore) ListBidsByBidder(bidderID string) ([]domain.Bid, error) {
	var models []BidModel
	if err := s.db.Where("bidder_id = ?", bidderID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Bid, 0, len(models))
	for _, m := range models {
		res = append(res, bidFromModel(m))
	}
	return res, nil
}

// GetBidByListingAndBidder returns the caller's live bid, if any.
func (s *GormStore) GetBidByListingAndBidder(listingID, bidderID string) (domain.Bid, bool, error) {
	var model BidModel
	err := s.db.Where("listing_id = ? AND bidder_id = ?", listingID, bidderID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Bid{}, false, nil
		}
		return domain.Bid{}, false, err
	}
	return bidFromModel(model), true, nil
}

// CreateConversation inserts the conversation and memberships in one
// transaction. The unique pair key maps a concurrent duplicate to
// ErrDuplicateConversation.
func (s *GormStore) CreateConversation(conv domain.Conversation, pairKey string, memberIDs []string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model := ConversationModel{
			ID:        conv.ID,
			PairKey:   pairKey,
			CreatedAt: conv.CreatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, uid := range memberIDs {
			member := ConversationMemberModel{ConversationID: conv.ID, UserID: uid}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateConversation
		}
		return err
	}
	return nil
}

// GetConversationByPairKey resolves a conversation from its unordered pair key.
func (s *GormStore) GetConversationByPairKey(pairKey string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.Where("pair_key = ?", pairKey).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// GetConversation retrieves a conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns conversations the user belongs to.
func (s *GormStore) ListConversationsByUser(userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	err := s.db.
		Joins("JOIN conversation_member_models m ON m.conversation_id = conversation_models.id").
		Where("m.user_id = ?", userID).
		Order("conversation_models.created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// ListConversationMembers returns the member user IDs of a conversation.
func (s *GormStore) ListConversationMembers(conversationID string) ([]string, error) {
	var models []ConversationMemberModel
	if err := s.db.Where("conversation_id = ?", conversationID).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]string, 0, len(models))
	for _, m := range models {
		res = append(res, m.UserID)
	}
	return res, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns messages ordered by creation time ascending.
func (s *GormStore) ListMessages(conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		AvatarBase64: u.Avatar,
		Contact:      u.Contact,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		DisplayName:  m.DisplayName,
		Avatar:       m.AvatarBase64,
		Contact:      m.Contact,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func listingToModel(l domain.Listing) (ListingModel, error) {
	var images datatypes.JSON
	if len(l.Images) > 0 {
		raw, err := json.Marshal(l.Images)
		if err != nil {
			return ListingModel{}, fmt.Errorf("encode images: %w", err)
		}
		images = datatypes.JSON(raw)
	}
	return ListingModel{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Kind:        string(l.Kind),
		Title:       l.Title,
		Description: l.Description,
		Price:       l.Price,
		Unit:        l.Unit,
		IconBase64:  l.Icon,
		Images:      images,
		CreatedAt:   l.CreatedAt,
	}, nil
}

func listingFromModel(m ListingModel) (domain.Listing, error) {
	var images []string
	if len(m.Images) > 0 {
		if err := json.Unmarshal(m.Images, &images); err != nil {
			return domain.Listing{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return domain.Listing{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Kind:        domain.ListingKind(m.Kind),
		Title:       m.Title,
		Description: m.Description,
		Price:       m.Price,
		Unit:        m.Unit,
		Icon:        m.IconBase64,
		Images:      images,
		CreatedAt:   m.CreatedAt,
	}, nil
}

func listingsFromModels(models []ListingModel) ([]domain.Listing, error) {
	res := make([]domain.Listing, 0, len(models))
	for _, m := range models {
		listing, err := listingFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, listing)
	}
	return res, nil
}

func bidToModel(b domain.Bid) BidModel {
	return BidModel{
		ID:          b.ID,
		ListingID:   b.ListingID,
		BidderID:    b.BidderID,
		BidderEmail: b.BidderEmail,
		Amount:      b.Amount,
		Kind:        string(b.Kind),
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
	}
}

func bidFromModel(m BidModel) domain.Bid {
	return domain.Bid{
		ID:          m.ID,
		ListingID:   m.ListingID,
		BidderID:    m.BidderID,
		BidderEmail: m.BidderEmail,
		Amount:      m.Amount,
		Kind:        domain.BidKind(m.Kind),
		Status:      domain.BidStatus(m.Status),
		CreatedAt:   m.CreatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           msg.Type,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
	}
}
