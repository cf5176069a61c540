package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"farmlink/internal/storage"
	"farmlink/internal/store"
	"farmlink/pkg/domain"
)

// Gallery images above this size leave the row and move to object storage.
const imageOffloadBytes = 64 * 1024

const presignExpiry = 15 * time.Minute

const objectKeyPrefix = "s3:"

// ListingInput carries the fields a user submits when posting a listing.
type ListingInput struct {
	Kind        domain.ListingKind
	Title       string
	Description string
	Price       float64
	Unit        string
	Icon        string
	Images      []string
}

// CreateListing inserts a listing attributed to the acting user.
// Request-kind listings never persist icon or images; clients substitute a
// placeholder at display time.
func (a *App) CreateListing(ctx context.Context, actingUser domain.User, input ListingInput) (domain.Listing, error) {
	if input.Kind != domain.KindOffer && input.Kind != domain.KindRequest {
		return domain.Listing{}, fmt.Errorf("%w: kind must be %q or %q", ErrValidation, domain.KindOffer, domain.KindRequest)
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return domain.Listing{}, fmt.Errorf("%w: title and description are required", ErrValidation)
	}
	if math.IsNaN(input.Price) || math.IsInf(input.Price, 0) || input.Price < 0 {
		return domain.Listing{}, fmt.Errorf("%w: price must be a non-negative number", ErrValidation)
	}

	listing := domain.Listing{
		ID:          uuid.NewString(),
		OwnerID:     actingUser.ID,
		Kind:        input.Kind,
		Title:       title,
		Description: description,
		Price:       input.Price,
		Unit:        strings.TrimSpace(input.Unit),
		CreatedAt:   time.Now().UTC(),
	}
	if input.Kind == domain.KindOffer {
		listing.Icon = input.Icon
		listing.Images = a.offloadImages(ctx, listing.ID, input.Images)
	}
	if err := a.store.SaveListing(listing); err != nil {
		return domain.Listing{}, fmt.Errorf("save listing: %w", err)
	}
	return listing, nil
}

// ListListings returns the filtered, price-ordered set. Filtering happens in
// the storage query layer.
func (a *App) ListListings(ctx context.Context, filter store.ListingFilter) ([]domain.Listing, error) {
	listings, err := a.store.ListListings(filter)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return a.resolveImageSets(ctx, listings), nil
}

// GetListing returns a single listing or ErrNotFound.
func (a *App) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	listing, ok, err := a.store.GetListing(id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("fetch listing: %w", err)
	}
	if !ok {
		return domain.Listing{}, ErrNotFound
	}
	listing.Images = a.resolveImages(ctx, listing.Images)
	return listing, nil
}

// DeleteListing hard-deletes a listing and its bids. Owner only.
func (a *App) DeleteListing(ctx context.Context, actingUser domain.User, id string) error {
	listing, ok, err := a.store.GetListing(id)
	if err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if listing.OwnerID != actingUser.ID {
		return fmt.Errorf("%w: only the owner can close a listing", ErrForbidden)
	}
	if err := a.store.DeleteListing(id); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	a.deleteOffloadedImages(ctx, listing.Images)
	return nil
}

// ListListingsByOwner returns a user's own listings for the profile view.
func (a *App) ListListingsByOwner(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	listings, err := a.store.ListListingsByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("list listings by owner: %w", err)
	}
	return a.resolveImageSets(ctx, listings), nil
}

// ListListingsBidOnBy returns the listings the user has live bids on.
func (a *App) ListListingsBidOnBy(ctx context.Context, userID string) ([]domain.Listing, error) {
	bids, err := a.store.ListBidsByBidder(userID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	ids := make([]string, 0, len(bids))
	for _, b := range bids {
		ids = append(ids, b.ListingID)
	}
	listings, err := a.store.ListListingsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("list bid-on listings: %w", err)
	}
	return a.resolveImageSets(ctx, listings), nil
}

// offloadImages moves large gallery images to object storage, replacing them
// with object keys. Without an object store, images stay inline exactly as
// submitted. Offload failures keep the image inline.
func (a *App) offloadImages(ctx context.Context, listingID string, images []string) []string {
	if len(images) == 0 {
		return nil
	}
	out := make([]string, 0, len(images))
	for i, img := range images {
		if a.images == nil || len(img) < imageOffloadBytes || !storage.IsDataURI(img) {
			out = append(out, img)
			continue
		}
		parsed, err := storage.ParseDataURI(img)
		if err != nil {
			out = append(out, img)
			continue
		}
		key := fmt.Sprintf("listings/%s/%d", listingID, i)
		if err := a.images.Put(ctx, key, bytes.NewReader(parsed.Data), int64(len(parsed.Data)), parsed.ContentType); err != nil {
			slog.Warn("image offload failed, keeping inline", "listing_id", listingID, "err", err)
			out = append(out, img)
			continue
		}
		out = append(out, objectKeyPrefix+key)
	}
	return out
}

// resolveImages rewrites object keys to pre-signed URLs for display.
func (a *App) resolveImages(ctx context.Context, images []string) []string {
	if len(images) == 0 {
		return images
	}
	out := make([]string, 0, len(images))
	for _, img := range images {
		key, isKey := strings.CutPrefix(img, objectKeyPrefix)
		if !isKey || a.images == nil {
			out = append(out, img)
			continue
		}
		url, err := a.images.PresignGet(ctx, key, presignExpiry)
		if err != nil {
			slog.Warn("presign image failed", "key", key, "err", err)
			continue
		}
		out = append(out, url)
	}
	return out
}

func (a *App) resolveImageSets(ctx context.Context, listings []domain.Listing) []domain.Listing {
	for i := range listings {
		listings[i].Images = a.resolveImages(ctx, listings[i].Images)
	}
	return listings
}

func (a *App) deleteOffloadedImages(ctx context.Context, images []string) {
	if a.images == nil {
		return
	}
	for _, img := range images {
		if key, ok := strings.CutPrefix(img, objectKeyPrefix); ok {
			if err := a.images.Delete(ctx, key); err != nil {
				slog.Warn("delete offloaded image failed", "key", key, "err", err)
			}
		}
	}
}
