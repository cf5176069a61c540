package store

import (
	"errors"
	"testing"
	"time"

	"farmlink/pkg/domain"
)

func seedListing(t *testing.T, s *MemoryStore, id, owner string, kind domain.ListingKind, price float64) {
	t.Helper()
	err := s.SaveListing(domain.Listing{
		ID:          id,
		OwnerID:     owner,
		Kind:        kind,
		Title:       "Listing " + id,
		Description: "desc",
		Price:       price,
		Unit:        "kg",
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("save listing %s: %v", id, err)
	}
}

func TestMemoryStoreListingFilterAndSort(t *testing.T) {
	s := NewMemoryStore()
	seedListing(t, s, "l1", "u1", domain.KindOffer, 100)
	seedListing(t, s, "l2", "u1", domain.KindOffer, 300)
	seedListing(t, s, "l3", "u1", domain.KindOffer, 500)
	seedListing(t, s, "l4", "u2", domain.KindRequest, 200)
	seedListing(t, s, "l5", "u2", domain.KindRequest, 400)

	min := 150.0
	got, err := s.ListListings(ListingFilter{Kind: domain.KindOffer, MinPrice: &min})
	if err != nil {
		t.Fatalf("list listings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered count = %d, want 2", len(got))
	}
	if got[0].Price != 300 || got[1].Price != 500 {
		t.Fatalf("prices = [%v, %v], want ascending [300, 500]", got[0].Price, got[1].Price)
	}

	got, err = s.ListListings(ListingFilter{PriceDesc: true})
	if err != nil {
		t.Fatalf("list listings desc: %v", err)
	}
	if got[0].Price != 500 {
		t.Fatalf("descending sort should start at 500, got %v", got[0].Price)
	}
}

func TestMemoryStoreTextQueryMatchesTitle(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveListing(domain.Listing{ID: "l1", OwnerID: "u1", Kind: domain.KindOffer, Title: "Fresh Tomatoes", Description: "d", Price: 250})
	if err != nil {
		t.Fatalf("save listing: %v", err)
	}
	seedListing(t, s, "l2", "u1", domain.KindOffer, 100)

	got, err := s.ListListings(ListingFilter{TextQuery: "tomato"})
	if err != nil {
		t.Fatalf("list listings: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Fatalf("text query should match case-insensitively, got %v", got)
	}
}

func TestMemoryStoreDuplicateBidRejected(t *testing.T) {
	s := NewMemoryStore()
	bid := domain.Bid{ID: "b1", ListingID: "l1", BidderID: "u2", Amount: 200, Kind: domain.BidCounter, Status: domain.BidPending}
	if err := s.CreateBid(bid); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	dup := bid
	dup.ID = "b2"
	if err := s.CreateBid(dup); !errors.Is(err, ErrDuplicateBid) {
		t.Fatalf("duplicate bid error = %v, want ErrDuplicateBid", err)
	}

	// Withdrawal removes the row and frees the pair for a fresh cycle.
	if err := s.DeleteBid("b1"); err != nil {
		t.Fatalf("delete bid: %v", err)
	}
	if err := s.CreateBid(dup); err != nil {
		t.Fatalf("bid after withdrawal: %v", err)
	}
}

func TestMemoryStoreDeleteListingCascadesBids(t *testing.T) {
	s := NewMemoryStore()
	seedListing(t, s, "l1", "u1", domain.KindOffer, 100)
	if err := s.CreateBid(domain.Bid{ID: "b1", ListingID: "l1", BidderID: "u2", Amount: 90, Kind: domain.BidCounter, Status: domain.BidPending}); err != nil {
		t.Fatalf("create bid: %v", err)
	}
	if err := s.DeleteListing("l1"); err != nil {
		t.Fatalf("delete listing: %v", err)
	}
	bids, err := s.ListBidsByListing("l1")
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("bids should be removed with the listing, got %d", len(bids))
	}
}

func TestMemoryStoreDuplicateConversationRejected(t *testing.T) {
	s := NewMemoryStore()
	conv := domain.Conversation{ID: "c1", CreatedAt: time.Now().UTC()}
	if err := s.CreateConversation(conv, "a|b", []string{"a", "b"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	second := domain.Conversation{ID: "c2", CreatedAt: time.Now().UTC()}
	if err := s.CreateConversation(second, "a|b", []string{"a", "b"}); !errors.Is(err, ErrDuplicateConversation) {
		t.Fatalf("duplicate conversation error = %v, want ErrDuplicateConversation", err)
	}

	got, ok, err := s.GetConversationByPairKey("a|b")
	if err != nil || !ok {
		t.Fatalf("pair key lookup failed: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("pair key resolves to %q, want c1", got.ID)
	}
}
