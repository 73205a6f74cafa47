package harvester

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/metrics"
	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

// RateStore is the slice of the store the engine needs.
type RateStore interface {
	LiveRates(ctx context.Context, productID int64) ([]model.ProductRate, error)
	ApplyReconciliation(ctx context.Context, productID int64, asOf time.Time, closeIDs []int64, inserts []model.TierCandidate) error
}

// Engine reconciles a product's parsed tier candidates against its live
// view. Rate changes are modeled as close-old plus open-new, never an
// in-place update, so the pricing history stays auditable. For every tier
// key at most one row is live; the whole close/insert set for a product
// commits atomically or not at all.
type Engine struct {
	store  RateStore
	logger *zap.Logger
}

func NewEngine(store RateStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Reconcile computes and applies the minimal close/open set. An empty
// candidate list is a valid statement that the source currently offers no
// tiers and closes everything live.
func (e *Engine) Reconcile(ctx context.Context, productID int64, asOf time.Time, candidates []model.TierCandidate) (model.ReconcileReport, error) {
	report := model.ReconcileReport{ProductID: productID}

	live, err := e.store.LiveRates(ctx, productID)
	if err != nil {
		return report, fmt.Errorf("failed to load live tiers for product %d: %w", productID, err)
	}

	liveByKey := make(map[model.TierKey]model.ProductRate, len(live))
	for _, row := range live {
		if _, dup := liveByKey[row.Key()]; dup {
			// should be impossible, the store enforces one live row per key
			e.logger.Error("duplicate live rows for tier key",
				zap.Int64("productID", productID), zap.Stringer("key", row.Key()))
			continue
		}
		liveByKey[row.Key()] = row
	}

	// drop invalid candidates and duplicate tier keys; first sighting wins
	accepted := make([]model.TierCandidate, 0, len(candidates))
	seen := make(map[model.TierKey]bool, len(candidates))
	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			e.logger.Warn("excluding invalid candidate",
				zap.Int64("productID", productID), zap.Error(err))
			report.DroppedInvalid++
			continue
		}
		key := c.Key()
		if seen[key] {
			e.logger.Warn("excluding duplicate candidate for tier key",
				zap.Int64("productID", productID), zap.Stringer("key", key))
			report.DroppedDuplicates++
			continue
		}
		seen[key] = true
		accepted = append(accepted, c)
	}

	var closeIDs []int64
	var inserts []model.TierCandidate

	// tiers the source no longer offers
	for key, row := range liveByKey {
		if !seen[key] {
			closeIDs = append(closeIDs, row.ID)
			report.Closed++
		}
	}

	for _, c := range accepted {
		row, ok := liveByKey[c.Key()]
		switch {
		case !ok:
			inserts = append(inserts, c)
			report.Opened++
		case c.SameRates(row):
			// unchanged, keep the existing row and its EffectiveFrom
			report.Unchanged++
		default:
			closeIDs = append(closeIDs, row.ID)
			inserts = append(inserts, c)
			report.Closed++
			report.Opened++
		}
	}

	if err := e.store.ApplyReconciliation(ctx, productID, asOf, closeIDs, inserts); err != nil {
		return report, fmt.Errorf("failed to apply reconciliation for product %d: %w", productID, err)
	}

	metrics.RateRowsOpened.Add(float64(report.Opened))
	metrics.RateRowsClosed.Add(float64(report.Closed))

	if report.Changed() {
		e.logger.Info("reconciled product tiers",
			zap.Int64("productID", productID),
			zap.Int("opened", report.Opened),
			zap.Int("closed", report.Closed),
			zap.Int("unchanged", report.Unchanged))
	}
	return report, nil
}
