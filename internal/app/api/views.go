package api

import (
	"time"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

type rateView struct {
	RateType        string    `json:"rate_type"`
	AnnualRate      string    `json:"annual_rate"`
	ComparisonRate  *string   `json:"comparison_rate,omitempty"`
	FixedTermMonths *int      `json:"fixed_term_months,omitempty"`
	LVRMax          *string   `json:"lvr_max,omitempty"`
	SourceChangedOn *string   `json:"source_changed_on,omitempty"`
	EffectiveFrom   time.Time `json:"effective_from"`
}

type productView struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Channel        string     `json:"channel"`
	Purpose        string     `json:"purpose"`
	OwnerTypes     []string   `json:"owner_types"`
	RepaymentTypes []string   `json:"repayment_types"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Rates          []rateView `json:"rates"`
}

type liveRateView struct {
	BrandCode   string `json:"brand_code"`
	BrandName   string `json:"brand_name"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	rateView
}

func newRateView(r model.ProductRate) rateView {
	v := rateView{
		RateType:      string(r.RateType),
		AnnualRate:    r.AnnualRate.String(),
		EffectiveFrom: r.EffectiveFrom,
	}
	if r.ComparisonRate != nil {
		s := r.ComparisonRate.String()
		v.ComparisonRate = &s
	}
	v.FixedTermMonths = r.FixedTermMonths
	if r.LVRMax != nil {
		s := r.LVRMax.String()
		v.LVRMax = &s
	}
	if r.SourceChangedOn != nil {
		s := r.SourceChangedOn.String()
		v.SourceChangedOn = &s
	}
	return v
}

func newProductView(p model.ProductWithRates) productView {
	v := productView{
		ID:        p.Product.ID,
		Name:      p.Product.Name,
		Channel:   string(p.Product.Channel),
		Purpose:   string(p.Product.Purpose),
		UpdatedAt: p.Product.UpdatedAt,
	}
	for _, o := range p.Product.OwnerTypes {
		v.OwnerTypes = append(v.OwnerTypes, string(o))
	}
	for _, r := range p.Product.RepaymentTypes {
		v.RepaymentTypes = append(v.RepaymentTypes, string(r))
	}
	for _, r := range p.Rates {
		v.Rates = append(v.Rates, newRateView(r))
	}
	return v
}

func newLiveRateView(row model.LiveRateRow) liveRateView {
	return liveRateView{
		BrandCode:   row.BrandCode,
		BrandName:   row.BrandName,
		ProductID:   row.ProductID,
		ProductName: row.ProductName,
		rateView:    newRateView(row.Rate),
	}
}
