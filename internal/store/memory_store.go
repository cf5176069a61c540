package store

import (
	"sort"
	"strings"
	"sync"

	"farmlink/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs
// without Postgres; it enforces the same uniqueness rules as GormStore.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	listings      map[string]domain.Listing
	listingOrder  []string
	bids          map[string]domain.Bid
	bidOrder      []string
	conversations map[string]domain.Conversation
	pairKeys      map[string]string // pair key -> conversation ID
	members       map[string][]string
	messages      map[string][]domain.Message
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		listings:      make(map[string]domain.Listing),
		bids:          make(map[string]domain.Bid),
		conversations: make(map[string]domain.Conversation),
		pairKeys:      make(map[string]string),
		members:       make(map[string][]string),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SaveListing(l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listings[l.ID]; !exists {
		m.listingOrder = append(m.listingOrder, l.ID)
	}
	m.listings[l.ID] = l
	return nil
}

func (m *MemoryStore) ListListings(filter ListingFilter) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Listing, 0, len(m.listingOrder))
	query := strings.ToLower(strings.TrimSpace(filter.TextQuery))
	for _, id := range m.listingOrder {
		l, ok := m.listings[id]
		if !ok {
			continue
		}
		if filter.Kind != "" && l.Kind != filter.Kind {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(l.Title), query) {
			continue
		}
		if filter.MinPrice != nil && l.Price < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && l.Price > *filter.MaxPrice {
			continue
		}
		res = append(res, l)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if filter.PriceDesc {
			return res[i].Price > res[j].Price
		}
		return res[i].Price < res[j].Price
	})
	return res, nil
}

func (m *MemoryStore) ListListingsByOwner(ownerID string) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Listing, 0)
	for i := len(m.listingOrder) - 1; i >= 0; i-- {
		if l, ok := m.listings[m.listingOrder[i]]; ok && l.OwnerID == ownerID {
			res = append(res, l)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListListingsByIDs(ids []string) ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	res := make([]domain.Listing, 0, len(ids))
	for i := len(m.listingOrder) - 1; i >= 0; i-- {
		id := m.listingOrder[i]
		if _, ok := want[id]; !ok {
			continue
		}
		if l, ok := m.listings[id]; ok {
			res = append(res, l)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetListing(id string) (domain.Listing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	return l, ok, nil
}

func (m *MemoryStore) DeleteListing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, id)
	m.listingOrder = remove(m.listingOrder, id)
	for bidID, b := range m.bids {
		if b.ListingID == id {
			delete(m.bids, bidID)
			m.bidOrder = remove(m.bidOrder, bidID)
		}
	}
	return nil
}

func (m *MemoryStore) CreateBid(b domain.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bids {
		if existing.ListingID == b.ListingID && existing.BidderID == b.BidderID {
			return ErrDuplicateBid
		}
	}
	m.bids[b.ID] = b
	m.bidOrder = append(m.bidOrder, b.ID)
	return nil
}

func (m *MemoryStore) GetBid(id string) (domain.Bid, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bids[id]
	return b, ok, nil
}

func (m *MemoryStore) SetBidStatus(id string, status domain.BidStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil
	}
	b.Status = status
	m.bids[id] = b
	return nil
}

func (m *MemoryStore) DeleteBid(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bids, id)
	m.bidOrder = remove(m.bidOrder, id)
	return nil
}

func (m *MemoryStore) ListBidsByListing(listingID string) ([]domain.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Bid, 0)
	for _, id := range m.bidOrder {
		if b, ok := m.bids[id]; ok && b.ListingID == listingID {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListBidsByBidder(bidderID string) ([]domain.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Bid, 0)
	for _, id := range m.bidOrder {
		if b, ok := m.bids[id]; ok && b.BidderID == bidderID {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetBidByListingAndBidder(listingID, bidderID string) (domain.Bid, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.bidOrder {
		if b, ok := m.bids[id]; ok && b.ListingID == listingID && b.BidderID == bidderID {
			return b, true, nil
		}
	}
	return domain.Bid{}, false, nil
}

func (m *MemoryStore) CreateConversation(conv domain.Conversation, pairKey string, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pairKeys[pairKey]; exists {
		return ErrDuplicateConversation
	}
	m.conversations[conv.ID] = conv
	m.pairKeys[pairKey] = conv.ID
	m.members[conv.ID] = append([]string(nil), memberIDs...)
	return nil
}

func (m *MemoryStore) GetConversationByPairKey(pairKey string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairKeys[pairKey]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	conv, ok := m.conversations[id]
	return conv, ok, nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	return conv, ok, nil
}

func (m *MemoryStore) ListConversationsByUser(userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for convID, memberIDs := range m.members {
		for _, uid := range memberIDs {
			if uid == userID {
				if conv, ok := m.conversations[convID]; ok {
					res = append(res, conv)
				}
				break
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) ListConversationMembers(conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.members[conversationID]...), nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages[conversationID]...), nil
}

func remove(items []string, target string) []string {
	filtered := items[:0]
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
