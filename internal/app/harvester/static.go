package harvester

import (
	"context"

	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

var _ Source = &StaticSource{}

// StaticSource serves a canned Suncoast-format document so the binary can be
// exercised end to end without reachable lender endpoints (dev mode).
type StaticSource struct {
	logger *zap.Logger
}

func NewStaticSource(logger *zap.Logger) *StaticSource {
	return &StaticSource{logger: logger}
}

func (d *StaticSource) BrandCode() string { return "static" }
func (d *StaticSource) BrandName() string { return "Static Demo Lender" }

func (d *StaticSource) List(_ context.Context) ([]model.SourceProduct, error) {
	return []model.SourceProduct{
		{
			ExternalID: "demo-loan",
			Attrs: model.ProductAttrs{
				Name:           "Demo Variable Loan",
				Channel:        model.ChannelRetail,
				Purpose:        model.PurposeAny,
				OwnerTypes:     []model.OwnerType{model.OwnerOccupier},
				RepaymentTypes: []model.RepaymentType{model.PrincipalAndInterest},
			},
		},
	}, nil
}

func (d *StaticSource) FetchRaw(_ context.Context, externalID string) ([]byte, error) {
	d.logger.Info("serving canned payload", zap.String("externalID", externalID))
	return []byte(`{
		"effectiveDate": "2026-08-01",
		"rates": [
			{"type": "VARIABLE", "annualRate": 5.74, "comparisonRate": 5.81, "maxLvr": 0.8},
			{"type": "FIXED", "termMonths": 24, "annualRate": 5.49, "comparisonRate": 5.63, "maxLvr": 0.8}
		]
	}`), nil
}

func (d *StaticSource) Parse(raw []byte) ([]model.TierCandidate, error) {
	// same document shape as Suncoast, reuse its decoder
	return (&SuncoastSource{logger: d.logger}).Parse(raw)
}
