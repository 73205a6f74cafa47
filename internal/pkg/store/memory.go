package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

var _ Store = &Memory{}

// Memory is a mutex-guarded in-memory Store. It backs the engine and
// orchestrator tests and the zero-config dev mode of the binary.
type Memory struct {
	mu sync.Mutex

	brands   map[int64]model.Brand
	products map[int64]model.Product
	raw      map[int64]model.RawProduct
	rates    map[int64]model.ProductRate

	nextBrandID   int64
	nextProductID int64
	nextRateID    int64
}

func NewMemory() *Memory {
	return &Memory{
		brands:   map[int64]model.Brand{},
		products: map[int64]model.Product{},
		raw:      map[int64]model.RawProduct{},
		rates:    map[int64]model.ProductRate{},
	}
}

func (m *Memory) EnsureBrand(_ context.Context, code, name string) (model.Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.brands {
		if b.Code == code {
			return b, nil
		}
	}
	m.nextBrandID++
	b := model.Brand{ID: m.nextBrandID, Code: code, Name: name}
	m.brands[b.ID] = b
	return b, nil
}

func (m *Memory) FindOrCreateProduct(_ context.Context, brandID int64, externalID string, attrs model.ProductAttrs) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.products {
		if p.BrandID == brandID && p.ExternalID == externalID {
			p.Name = attrs.Name
			p.Channel = attrs.Channel
			p.Purpose = attrs.Purpose
			p.OwnerTypes = attrs.OwnerTypes
			p.RepaymentTypes = attrs.RepaymentTypes
			p.IsActive = true
			m.products[id] = p
			return p, nil
		}
	}

	m.nextProductID++
	p := model.Product{
		ID:             m.nextProductID,
		BrandID:        brandID,
		ExternalID:     externalID,
		Name:           attrs.Name,
		Channel:        attrs.Channel,
		Purpose:        attrs.Purpose,
		OwnerTypes:     attrs.OwnerTypes,
		RepaymentTypes: attrs.RepaymentTypes,
		IsActive:       true,
	}
	m.products[p.ID] = p
	return p, nil
}

func (m *Memory) ListActiveProducts(_ context.Context) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeactivateMissing(_ context.Context, brandID int64, seen []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seenSet := make(map[string]bool, len(seen))
	for _, id := range seen {
		seenSet[id] = true
	}

	n := 0
	for id, p := range m.products {
		if p.BrandID == brandID && p.IsActive && !seenSet[p.ExternalID] {
			p.IsActive = false
			m.products[id] = p
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpsertRawProduct(_ context.Context, productID int64, payload []byte, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.raw[productID]; ok && fetchedAt.Before(existing.FetchedAt) {
		return fmt.Errorf("snapshot for product %d fetched at %s is older than stored %s",
			productID, fetchedAt, existing.FetchedAt)
	}
	m.raw[productID] = model.RawProduct{
		ProductID: productID,
		Payload:   append([]byte(nil), payload...),
		FetchedAt: fetchedAt,
	}
	return nil
}

func (m *Memory) GetRawProduct(_ context.Context, productID int64) (model.RawProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.raw[productID]
	if !ok {
		return model.RawProduct{}, model.ErrNotFound
	}
	r.Payload = append([]byte(nil), r.Payload...)
	return r, nil
}

func (m *Memory) LiveRates(_ context.Context, productID int64) ([]model.ProductRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveRatesLocked(productID), nil
}

func (m *Memory) liveRatesLocked(productID int64) []model.ProductRate {
	var out []model.ProductRate
	for _, r := range m.rates {
		if r.ProductID == productID && r.Live() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ApplyReconciliation(_ context.Context, productID int64, asOf time.Time, closeIDs []int64, inserts []model.TierCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before mutating anything so a failure leaves
	// the store exactly as it was.
	for _, id := range closeIDs {
		r, ok := m.rates[id]
		if !ok || r.ProductID != productID || !r.Live() {
			return fmt.Errorf("cannot close rate row %d: not a live row of product %d", id, productID)
		}
	}

	for _, id := range closeIDs {
		r := m.rates[id]
		to := asOf
		r.EffectiveTo = &to
		m.rates[id] = r
	}
	for _, c := range inserts {
		m.nextRateID++
		m.rates[m.nextRateID] = model.ProductRate{
			ID:              m.nextRateID,
			ProductID:       productID,
			RateType:        c.RateType,
			AnnualRate:      c.AnnualRate,
			ComparisonRate:  c.ComparisonRate,
			FixedTermMonths: c.FixedTermMonths,
			LVRMax:          c.LVRMax,
			SourceChangedOn: c.SourceChangedOn,
			EffectiveFrom:   asOf,
		}
	}
	if p, ok := m.products[productID]; ok {
		p.UpdatedAt = asOf
		m.products[productID] = p
	}
	return nil
}

func (m *Memory) ActiveProductsWithLiveRates(_ context.Context, topN int) ([]model.ProductWithRates, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ProductWithRates
	for _, p := range m.products {
		if !p.IsActive {
			continue
		}
		rates := m.liveRatesLocked(p.ID)
		sort.Slice(rates, func(i, j int) bool { return rates[i].AnnualRate.LessThan(rates[j].AnnualRate) })
		if topN > 0 && len(rates) > topN {
			rates = rates[:topN]
		}
		out = append(out, model.ProductWithRates{Product: p, Rates: rates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.ID < out[j].Product.ID })
	return out, nil
}

func (m *Memory) AllLiveRates(_ context.Context) ([]model.LiveRateRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.LiveRateRow
	for _, r := range m.rates {
		if !r.Live() {
			continue
		}
		p, ok := m.products[r.ProductID]
		if !ok || !p.IsActive {
			continue
		}
		b := m.brands[p.BrandID]
		out = append(out, model.LiveRateRow{
			BrandCode:   b.Code,
			BrandName:   b.Name,
			ProductID:   p.ID,
			ProductName: p.Name,
			Rate:        r,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rate.AnnualRate.LessThan(out[j].Rate.AnnualRate) })
	return out, nil
}

func (m *Memory) Close() {}
