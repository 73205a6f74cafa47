package store

import (
	"context"
	"time"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

// Store is the persistence boundary for the harvester: product identity,
// raw snapshots and the append-only rate history with its live view.
type Store interface {
	// EnsureBrand returns the brand with the given code, creating it on
	// first sighting.
	EnsureBrand(ctx context.Context, code, name string) (model.Brand, error)

	// FindOrCreateProduct registers an externally reported product,
	// reactivating it if it had previously disappeared from the feed.
	FindOrCreateProduct(ctx context.Context, brandID int64, externalID string, attrs model.ProductAttrs) (model.Product, error)

	// ListActiveProducts returns all products with IsActive true.
	ListActiveProducts(ctx context.Context) ([]model.Product, error)

	// DeactivateMissing flips IsActive off for the brand's products whose
	// external IDs are absent from seen, returning how many were flipped.
	// Rate history is kept.
	DeactivateMissing(ctx context.Context, brandID int64, seen []string) (int, error)

	// UpsertRawProduct overwrites the product's snapshot. A fetchedAt older
	// than the stored one is rejected so FetchedAt never moves backwards.
	UpsertRawProduct(ctx context.Context, productID int64, payload []byte, fetchedAt time.Time) error

	// GetRawProduct returns the latest snapshot, or model.ErrNotFound.
	GetRawProduct(ctx context.Context, productID int64) (model.RawProduct, error)

	// LiveRates returns the product's rows with EffectiveTo unset.
	LiveRates(ctx context.Context, productID int64) ([]model.ProductRate, error)

	// ApplyReconciliation atomically closes the given live rows at asOf,
	// inserts the given candidates as new live rows effective from asOf and
	// bumps the product's UpdatedAt. Either the whole set commits or none
	// of it does.
	ApplyReconciliation(ctx context.Context, productID int64, asOf time.Time, closeIDs []int64, inserts []model.TierCandidate) error

	// ActiveProductsWithLiveRates is the display query: active products
	// joined to their live tiers, each product's tiers ordered by annual
	// rate ascending and capped at topN (0 means no cap).
	ActiveProductsWithLiveRates(ctx context.Context, topN int) ([]model.ProductWithRates, error)

	// AllLiveRates returns every live tier across all active products for
	// the flattened comparison view, ordered by annual rate ascending.
	AllLiveRates(ctx context.Context) ([]model.LiveRateRow, error)

	Close()
}
