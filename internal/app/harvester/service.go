package harvester

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/metrics"
	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

// ProductStore is the slice of the store the orchestrator needs.
type ProductStore interface {
	EnsureBrand(ctx context.Context, code, name string) (model.Brand, error)
	FindOrCreateProduct(ctx context.Context, brandID int64, externalID string, attrs model.ProductAttrs) (model.Product, error)
	ListActiveProducts(ctx context.Context) ([]model.Product, error)
	DeactivateMissing(ctx context.Context, brandID int64, seen []string) (int, error)
	UpsertRawProduct(ctx context.Context, productID int64, payload []byte, fetchedAt time.Time) error
	GetRawProduct(ctx context.Context, productID int64) (model.RawProduct, error)
}

// Lock is the single-flight lease guarding whole runs.
type Lock interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

type ServiceConfig struct {
	Workers     int
	Staleness   time.Duration
	RunDeadline time.Duration
}

// Service drives one end-to-end harvest run: discover products per brand,
// then fetch, parse and reconcile each active product. Products are disjoint
// units of work and run concurrently on a bounded pool; the run itself is
// single-flight via the lock.
type Service struct {
	store    ProductStore
	registry *Registry
	engine   *Engine
	lock     Lock
	cfg      ServiceConfig
	logger   *zap.Logger
}

func NewService(store ProductStore, registry *Registry, engine *Engine, lock Lock, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		store:    store,
		registry: registry,
		engine:   engine,
		lock:     lock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one harvest. It returns model.ErrRunInProgress without doing
// any work when another run holds the lease. Per-product failures land in
// the report; only whole-run problems (lock, product enumeration) surface
// as an error.
func (s *Service) Run(ctx context.Context, force bool) (model.RunReport, error) {
	token, err := s.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, model.ErrRunInProgress) {
			metrics.RunsTotal.WithLabelValues("rejected").Inc()
			return model.RunReport{}, err
		}
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return model.RunReport{}, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, token); err != nil {
			s.logger.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	report := model.RunReport{
		RunID:     uuid.NewString(),
		Forced:    force,
		StartedAt: time.Now(),
	}
	s.logger.Info("harvest run starting", zap.String("runID", report.RunID), zap.Bool("force", force))

	if s.cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunDeadline)
		defer cancel()
	}

	sourceByBrandID, brandCodeByID := s.discover(ctx)

	products, err := s.store.ListActiveProducts(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("failed to enumerate active products: %w", err)
	}

	jobs := make(chan model.Product)
	results := make(chan *model.ProductFailure)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- s.processProduct(ctx, p, sourceByBrandID[p.BrandID], brandCodeByID[p.BrandID], force)
			}
		}()
	}

	// sent is written only by the feeder; the close(jobs) → wg.Wait →
	// close(results) chain orders the read after the last write
	sent := 0
	go func() {
		defer close(jobs)
		for _, p := range products {
			select {
			case jobs <- p:
				sent++
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for failure := range results {
		if failure != nil {
			report.Failed++
			report.Failures = append(report.Failures, *failure)
		} else {
			report.Processed++
		}
	}

	// products never dispatched because the deadline hit count as failures
	for _, p := range products[sent:] {
		report.Failed++
		report.Failures = append(report.Failures, model.ProductFailure{
			ProductID:  p.ID,
			Brand:      brandCodeByID[p.BrandID],
			ExternalID: p.ExternalID,
			Stage:      "abandoned",
			Reason:     ctx.Err().Error(),
		})
	}

	report.TimedOut = ctx.Err() != nil
	report.FinishedAt = time.Now()

	switch {
	case report.TimedOut:
		metrics.RunsTotal.WithLabelValues("timeout").Inc()
	default:
		metrics.RunsTotal.WithLabelValues("ok").Inc()
	}

	s.logger.Info("harvest run finished",
		zap.String("runID", report.RunID),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Bool("timedOut", report.TimedOut),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

// discover registers each brand and its currently listed products,
// reactivating returners and deactivating products that vanished from their
// feed. A brand whose listing fails is skipped: its known products are still
// harvested and nothing is deactivated on a failed listing.
func (s *Service) discover(ctx context.Context) (map[int64]Source, map[int64]string) {
	sourceByBrandID := make(map[int64]Source)
	brandCodeByID := make(map[int64]string)

	for _, src := range s.registry.Sources() {
		brand, err := s.store.EnsureBrand(ctx, src.BrandCode(), src.BrandName())
		if err != nil {
			s.logger.Error("failed to register brand", zap.String("brand", src.BrandCode()), zap.Error(err))
			continue
		}
		sourceByBrandID[brand.ID] = src
		brandCodeByID[brand.ID] = brand.Code

		listing, err := src.List(ctx)
		if err != nil {
			s.logger.Warn("brand listing failed, harvesting known products only",
				zap.String("brand", brand.Code), zap.Error(err))
			continue
		}

		seen := make([]string, 0, len(listing))
		for _, sp := range listing {
			if _, err := s.store.FindOrCreateProduct(ctx, brand.ID, sp.ExternalID, sp.Attrs); err != nil {
				s.logger.Error("failed to register product",
					zap.String("brand", brand.Code), zap.String("externalID", sp.ExternalID), zap.Error(err))
				continue
			}
			seen = append(seen, sp.ExternalID)
		}

		if n, err := s.store.DeactivateMissing(ctx, brand.ID, seen); err != nil {
			s.logger.Error("failed to deactivate vanished products",
				zap.String("brand", brand.Code), zap.Error(err))
		} else if n > 0 {
			s.logger.Info("deactivated products missing from feed",
				zap.String("brand", brand.Code), zap.Int("count", n))
		}
	}

	return sourceByBrandID, brandCodeByID
}

// processProduct runs the fetch → parse → reconcile pipeline for one
// product. It returns nil on success or the failure entry for the report; a
// failure leaves the product's previously known-good live tiers untouched.
func (s *Service) processProduct(ctx context.Context, p model.Product, src Source, brandCode string, force bool) *model.ProductFailure {
	fail := func(stage string, err error) *model.ProductFailure {
		metrics.ProductsTotal.WithLabelValues(brandCode, stage).Inc()
		s.logger.Warn("product harvest failed",
			zap.String("brand", brandCode),
			zap.String("externalID", p.ExternalID),
			zap.String("stage", stage),
			zap.Error(err))
		return &model.ProductFailure{
			ProductID:  p.ID,
			Brand:      brandCode,
			ExternalID: p.ExternalID,
			Stage:      stage,
			Reason:     err.Error(),
		}
	}

	if err := ctx.Err(); err != nil {
		return fail("abandoned", err)
	}
	if src == nil {
		return fail("parse", fmt.Errorf("%w: brand of product %d", model.ErrUnsupportedBrand, p.ID))
	}

	payload, err := s.snapshot(ctx, p, src, brandCode, force)
	if err != nil {
		return fail("fetch", err)
	}

	candidates, err := s.registry.Parse(brandCode, payload)
	if err != nil {
		return fail("parse", model.ParseError{Brand: brandCode, Err: err})
	}

	if _, err := s.engine.Reconcile(ctx, p.ID, time.Now(), candidates); err != nil {
		return fail("reconcile", err)
	}

	metrics.ProductsTotal.WithLabelValues(brandCode, "ok").Inc()
	return nil
}

// snapshot returns the payload to parse: the stored raw snapshot when it is
// fresh enough and no refresh is forced, otherwise a new fetch whose result
// overwrites the stored snapshot.
func (s *Service) snapshot(ctx context.Context, p model.Product, src Source, brandCode string, force bool) ([]byte, error) {
	if !force {
		raw, err := s.store.GetRawProduct(ctx, p.ID)
		if err == nil && time.Since(raw.FetchedAt) < s.cfg.Staleness {
			s.logger.Debug("reusing fresh snapshot",
				zap.String("brand", brandCode),
				zap.String("externalID", p.ExternalID),
				zap.Time("fetchedAt", raw.FetchedAt))
			return raw.Payload, nil
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("failed to read stored snapshot, fetching fresh",
				zap.String("externalID", p.ExternalID), zap.Error(err))
		}
	}

	start := time.Now()
	payload, err := src.FetchRaw(ctx, p.ExternalID)
	metrics.FetchDuration.WithLabelValues(brandCode).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertRawProduct(ctx, p.ID, payload, time.Now()); err != nil {
		// parsing can still proceed from the in-hand payload
		s.logger.Error("failed to store raw snapshot",
			zap.String("externalID", p.ExternalID), zap.Error(err))
	}
	return payload, nil
}
