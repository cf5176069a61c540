package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"farmlink/internal/store"
	"farmlink/pkg/domain"
)

// SubmitBid places a bid on a listing. A user holds at most one live bid per
// listing; the storage layer rejects a second insert.
func (a *App) SubmitBid(ctx context.Context, actingUser domain.User, listingID string, amount float64, kind domain.BidKind) (domain.Bid, error) {
	if kind != domain.BidAccept && kind != domain.BidCounter {
		return domain.Bid{}, fmt.Errorf("%w: bid kind must be %q or %q", ErrValidation, domain.BidAccept, domain.BidCounter)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return domain.Bid{}, fmt.Errorf("%w: bid amount must be positive", ErrValidation)
	}
	listing, ok, err := a.store.GetListing(listingID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("fetch listing: %w", err)
	}
	if !ok {
		return domain.Bid{}, ErrNotFound
	}
	if listing.OwnerID == actingUser.ID {
		return domain.Bid{}, fmt.Errorf("%w: cannot bid on your own listing", ErrForbidden)
	}

	bid := domain.Bid{
		ID:          uuid.NewString(),
		ListingID:   listingID,
		BidderID:    actingUser.ID,
		BidderEmail: actingUser.Email,
		Amount:      amount,
		Kind:        kind,
		Status:      domain.BidPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateBid(bid); err != nil {
		if errors.Is(err, store.ErrDuplicateBid) {
			return domain.Bid{}, fmt.Errorf("%w: you already have a bid on this listing", ErrDuplicateBid)
		}
		return domain.Bid{}, fmt.Errorf("create bid: %w", err)
	}
	return bid, nil
}

// WithdrawBid hard-deletes the acting user's bid. Nothing remembers a
// withdrawn bid; the user may bid on the same listing again afterwards.
func (a *App) WithdrawBid(ctx context.Context, actingUser domain.User, bidID string) error {
	bid, ok, err := a.store.GetBid(bidID)
	if err != nil {
		return fmt.Errorf("fetch bid: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if bid.BidderID != actingUser.ID {
		return fmt.Errorf("%w: only the bidder can withdraw a bid", ErrForbidden)
	}
	if err := a.store.DeleteBid(bidID); err != nil {
		return fmt.Errorf("delete bid: %w", err)
	}
	return nil
}

// ListBidsForListing returns every bid on a listing. Only the listing owner
// sees the full book; the check lives here, not in the handler.
func (a *App) ListBidsForListing(ctx context.Context, actingUser domain.User, listingID string) ([]domain.Bid, error) {
	listing, ok, err := a.store.GetListing(listingID)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if listing.OwnerID != actingUser.ID {
		return nil, fmt.Errorf("%w: only the listing owner can view its bids", ErrForbidden)
	}
	bids, err := a.store.ListBidsByListing(listingID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return bids, nil
}

// MyBidForListing returns the acting user's own bid on a listing, if any.
func (a *App) MyBidForListing(ctx context.Context, actingUser domain.User, listingID string) (domain.Bid, bool, error) {
	bid, ok, err := a.store.GetBidByListingAndBidder(listingID, actingUser.ID)
	if err != nil {
		return domain.Bid{}, false, fmt.Errorf("fetch bid: %w", err)
	}
	return bid, ok, nil
}

// ListMyBids returns every live bid placed by the acting user.
func (a *App) ListMyBids(ctx context.Context, actingUser domain.User) ([]domain.Bid, error) {
	bids, err := a.store.ListBidsByBidder(actingUser.ID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return bids, nil
}

// ResolveBid lets the listing owner accept or reject a pending bid.
func (a *App) ResolveBid(ctx context.Context, actingUser domain.User, listingID, bidID string, accept bool) (domain.Bid, error) {
	listing, ok, err := a.store.GetListing(listingID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("fetch listing: %w", err)
	}
	if !ok {
		return domain.Bid{}, ErrNotFound
	}
	if listing.OwnerID != actingUser.ID {
		return domain.Bid{}, fmt.Errorf("%w: only the listing owner can resolve bids", ErrForbidden)
	}
	bid, ok, err := a.store.GetBid(bidID)
	if err != nil {
		return domain.Bid{}, fmt.Errorf("fetch bid: %w", err)
	}
	if !ok || bid.ListingID != listingID {
		return domain.Bid{}, ErrNotFound
	}
	if bid.Status != domain.BidPending {
		return domain.Bid{}, fmt.Errorf("%w: bid is already %s", ErrValidation, bid.Status)
	}
	status := domain.BidRejected
	if accept {
		status = domain.BidAccepted
	}
	if err := a.store.SetBidStatus(bidID, status); err != nil {
		return domain.Bid{}, fmt.Errorf("update bid: %w", err)
	}
	bid.Status = status
	return bid, nil
}
