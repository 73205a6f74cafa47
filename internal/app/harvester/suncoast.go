package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

const (
	suncoastCode = "suncoast"
	suncoastName = "Suncoast Lending"
)

var _ Source = &SuncoastSource{}

// SuncoastSource consumes Suncoast's JSON product API: a listing endpoint
// plus a per-product rates document.
type SuncoastSource struct {
	baseURL string
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewSuncoastSource(baseURL string, fetcher *Fetcher, logger *zap.Logger) *SuncoastSource {
	return &SuncoastSource{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher, logger: logger}
}

func (s *SuncoastSource) BrandCode() string { return suncoastCode }
func (s *SuncoastSource) BrandName() string { return suncoastName }

type suncoastListing struct {
	Products []struct {
		ID             string   `json:"id"`
		Name           string   `json:"name"`
		Channel        string   `json:"channel"`
		Purpose        string   `json:"purpose"`
		OwnerTypes     []string `json:"ownerTypes"`
		RepaymentTypes []string `json:"repaymentTypes"`
	} `json:"products"`
}

type suncoastRatesDoc struct {
	EffectiveDate string `json:"effectiveDate"`
	Rates         []struct {
		Type           string           `json:"type"`
		TermMonths     *int             `json:"termMonths"`
		AnnualRate     decimal.Decimal  `json:"annualRate"`
		ComparisonRate *decimal.Decimal `json:"comparisonRate"`
		MaxLVR         *decimal.Decimal `json:"maxLvr"`
	} `json:"rates"`
}

func (s *SuncoastSource) List(ctx context.Context) ([]model.SourceProduct, error) {
	body, attempts, err := s.fetcher.Get(ctx, s.baseURL+"/v1/home-loans")
	if err != nil {
		return nil, model.FetchError{Brand: suncoastCode, ExternalID: "listing", Attempts: attempts, Err: err}
	}

	var listing suncoastListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode product listing: %w", err)
	}

	out := make([]model.SourceProduct, 0, len(listing.Products))
	for _, p := range listing.Products {
		if p.ID == "" {
			s.logger.Warn("dropping listing entry without id", zap.String("name", p.Name))
			continue
		}
		attrs := model.ProductAttrs{
			Name:    p.Name,
			Channel: model.Channel(p.Channel),
			Purpose: model.Purpose(p.Purpose),
		}
		for _, o := range p.OwnerTypes {
			attrs.OwnerTypes = append(attrs.OwnerTypes, model.OwnerType(o))
		}
		for _, r := range p.RepaymentTypes {
			attrs.RepaymentTypes = append(attrs.RepaymentTypes, model.RepaymentType(r))
		}
		out = append(out, model.SourceProduct{ExternalID: p.ID, Attrs: attrs})
	}
	return out, nil
}

func (s *SuncoastSource) FetchRaw(ctx context.Context, externalID string) ([]byte, error) {
	body, attempts, err := s.fetcher.Get(ctx, s.baseURL+"/v1/home-loans/"+externalID+"/rates")
	if err != nil {
		return nil, model.FetchError{Brand: suncoastCode, ExternalID: externalID, Attempts: attempts, Err: err}
	}
	return body, nil
}

func (s *SuncoastSource) Parse(raw []byte) ([]model.TierCandidate, error) {
	var doc suncoastRatesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode rates document: %w", err)
	}

	var changedOn *civil.Date
	if doc.EffectiveDate != "" {
		if t, err := time.Parse("2006-01-02", doc.EffectiveDate); err == nil {
			d := civil.DateOf(t)
			changedOn = &d
		} else {
			s.logger.Warn("failed to parse effectiveDate", zap.String("value", doc.EffectiveDate), zap.Error(err))
		}
	}

	// a missing rates field is an unexpected document shape, but an
	// explicitly empty array is a statement that the product currently
	// offers zero tiers, not a parse failure
	if doc.Rates == nil {
		return nil, fmt.Errorf("document has no rates field")
	}
	if len(doc.Rates) == 0 {
		return []model.TierCandidate{}, nil
	}

	tiers := make([]model.TierCandidate, 0, len(doc.Rates))
	for _, r := range doc.Rates {
		rateType, err := suncoastRateType(r.Type)
		if err != nil {
			s.logger.Warn("dropping tier with unknown rate type", zap.String("type", r.Type))
			continue
		}
		tier := model.TierCandidate{
			RateType:        rateType,
			AnnualRate:      r.AnnualRate,
			ComparisonRate:  r.ComparisonRate,
			FixedTermMonths: r.TermMonths,
			LVRMax:          r.MaxLVR,
			SourceChangedOn: changedOn,
		}
		if err := tier.Validate(); err != nil {
			s.logger.Warn("dropping implausible tier", zap.String("type", r.Type), zap.Error(err))
			continue
		}
		tiers = append(tiers, tier)
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("all %d rate entries were malformed", len(doc.Rates))
	}
	return tiers, nil
}

func suncoastRateType(raw string) (model.RateType, error) {
	switch strings.ToUpper(raw) {
	case "VARIABLE":
		return model.RateTypeVariable, nil
	case "FIXED":
		return model.RateTypeFixed, nil
	case "INTRO", "INTRODUCTORY":
		return model.RateTypeIntro, nil
	default:
		return "", fmt.Errorf("unknown rate type '%s'", raw)
	}
}
