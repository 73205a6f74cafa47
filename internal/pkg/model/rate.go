package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const (
	RateTypeVariable RateType = "variable"
	RateTypeFixed    RateType = "fixed"
	RateTypeIntro    RateType = "intro"
)

type RateType string

// maxPlausibleRate guards against a source publishing garbage percentages.
var maxPlausibleRate = decimal.NewFromInt(30)

// ProductRate is one version of a priced tier. Rows are append-only: a rate
// change closes the old row (EffectiveTo set) and opens a new one, never an
// in-place update. EffectiveTo == nil marks the row live.
type ProductRate struct {
	ID              int64
	ProductID       int64
	RateType        RateType
	AnnualRate      decimal.Decimal
	ComparisonRate  *decimal.Decimal
	FixedTermMonths *int
	LVRMax          *decimal.Decimal
	SourceChangedOn *civil.Date
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
}

// Live reports whether the row is currently in force.
func (r ProductRate) Live() bool { return r.EffectiveTo == nil }

// Key returns the row's tier key.
func (r ProductRate) Key() TierKey {
	return newTierKey(r.RateType, r.FixedTermMonths, r.LVRMax)
}

// TierCandidate is a parsed tier as reported by a brand source, before
// reconciliation against the live view.
type TierCandidate struct {
	RateType        RateType
	AnnualRate      decimal.Decimal
	ComparisonRate  *decimal.Decimal
	FixedTermMonths *int
	LVRMax          *decimal.Decimal
	SourceChangedOn *civil.Date
}

// Key returns the candidate's tier key.
func (c TierCandidate) Key() TierKey {
	return newTierKey(c.RateType, c.FixedTermMonths, c.LVRMax)
}

// Validate checks the candidate's numeric fields for plausibility. Parsers
// call this before emitting a tier; the reconciliation engine re-checks and
// drops violators rather than aborting the batch.
func (c TierCandidate) Validate() error {
	if c.RateType == "" {
		return InvalidCandidateError{Reason: "missing rate type"}
	}
	if !c.AnnualRate.IsPositive() || c.AnnualRate.GreaterThan(maxPlausibleRate) {
		return InvalidCandidateError{Reason: fmt.Sprintf("annual rate %s outside (0, %s]", c.AnnualRate, maxPlausibleRate)}
	}
	if c.ComparisonRate != nil && (!c.ComparisonRate.IsPositive() || c.ComparisonRate.GreaterThan(maxPlausibleRate)) {
		return InvalidCandidateError{Reason: fmt.Sprintf("comparison rate %s outside (0, %s]", c.ComparisonRate, maxPlausibleRate)}
	}
	if c.LVRMax != nil && (!c.LVRMax.IsPositive() || c.LVRMax.GreaterThan(decimal.NewFromInt(1))) {
		return InvalidCandidateError{Reason: fmt.Sprintf("lvr max %s outside (0, 1]", c.LVRMax)}
	}
	if c.FixedTermMonths != nil && (*c.FixedTermMonths < 1 || *c.FixedTermMonths > 120) {
		return InvalidCandidateError{Reason: fmt.Sprintf("fixed term %d months outside [1, 120]", *c.FixedTermMonths)}
	}
	return nil
}

// SameRates reports whether the candidate's rate-bearing fields match the
// given row exactly. Matching tiers are left untouched by reconciliation so
// EffectiveFrom survives runs that change nothing.
func (c TierCandidate) SameRates(r ProductRate) bool {
	if !c.AnnualRate.Equal(r.AnnualRate) {
		return false
	}
	if (c.ComparisonRate == nil) != (r.ComparisonRate == nil) {
		return false
	}
	if c.ComparisonRate != nil && !c.ComparisonRate.Equal(*r.ComparisonRate) {
		return false
	}
	return true
}

// TierKey identifies "the same priced tier" across harvest runs within one
// product: rows sharing a key over time are successive versions of one tier.
// The struct is comparable so it can be used as a map key; absent term and
// LVR are encoded as -1 and "".
type TierKey struct {
	RateType   RateType
	TermMonths int
	LVRMax     string
}

func newTierKey(rt RateType, termMonths *int, lvrMax *decimal.Decimal) TierKey {
	k := TierKey{RateType: rt, TermMonths: -1}
	if termMonths != nil {
		k.TermMonths = *termMonths
	}
	if lvrMax != nil {
		// fixed form so 0.8 and 0.8000 (a numeric column round trip) agree
		k.LVRMax = lvrMax.StringFixed(4)
	}
	return k
}

func (k TierKey) String() string {
	return fmt.Sprintf("%s/term=%d/lvr=%s", k.RateType, k.TermMonths, k.LVRMax)
}
