package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func ip(i int) *int { return &i }

func TestTierKeyIdentity(t *testing.T) {
	a := TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.49"), FixedTermMonths: ip(24), LVRMax: dp("0.8")}
	b := TierCandidate{RateType: RateTypeFixed, AnnualRate: d("6.10"), FixedTermMonths: ip(24), LVRMax: dp("0.8")}
	assert.Equal(t, a.Key(), b.Key(), "rate values are not part of the tier key")

	c := TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.49"), FixedTermMonths: ip(36), LVRMax: dp("0.8")}
	assert.NotEqual(t, a.Key(), c.Key())

	noTerm := TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.49"), LVRMax: dp("0.8")}
	noLVR := TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.49")}
	assert.NotEqual(t, noTerm.Key(), noLVR.Key())
}

func TestTierKeyMatchesRateRow(t *testing.T) {
	c := TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.49"), FixedTermMonths: ip(24), LVRMax: dp("0.8")}
	r := ProductRate{RateType: RateTypeFixed, AnnualRate: d("6.00"), FixedTermMonths: ip(24), LVRMax: dp("0.8")}
	assert.Equal(t, c.Key(), r.Key())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cand    TierCandidate
		wantErr bool
	}{
		{"valid variable", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.89")}, false},
		{"valid fixed", TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.49"), FixedTermMonths: ip(24), LVRMax: dp("0.8")}, false},
		{"missing rate type", TierCandidate{AnnualRate: d("5.89")}, true},
		{"zero rate", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("0")}, true},
		{"negative rate", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("-1")}, true},
		{"implausible rate", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("31")}, true},
		{"bad comparison", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.89"), ComparisonRate: dp("99")}, true},
		{"lvr above 1", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.89"), LVRMax: dp("1.2")}, true},
		{"lvr zero", TierCandidate{RateType: RateTypeVariable, AnnualRate: d("5.89"), LVRMax: dp("0")}, true},
		{"term too long", TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.89"), FixedTermMonths: ip(130)}, true},
		{"term zero", TierCandidate{RateType: RateTypeFixed, AnnualRate: d("5.89"), FixedTermMonths: ip(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cand.Validate()
			if tt.wantErr {
				require.Error(t, err)
				var ice InvalidCandidateError
				assert.ErrorAs(t, err, &ice)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSameRates(t *testing.T) {
	row := ProductRate{AnnualRate: d("5.89"), ComparisonRate: dp("6.01")}

	assert.True(t, TierCandidate{AnnualRate: d("5.89"), ComparisonRate: dp("6.01")}.SameRates(row))
	assert.True(t, TierCandidate{AnnualRate: d("5.890"), ComparisonRate: dp("6.010")}.SameRates(row),
		"decimal comparison ignores trailing zeros")
	assert.False(t, TierCandidate{AnnualRate: d("5.88"), ComparisonRate: dp("6.01")}.SameRates(row))
	assert.False(t, TierCandidate{AnnualRate: d("5.89")}.SameRates(row),
		"comparison rate disappearing is a change")
	assert.False(t, TierCandidate{AnnualRate: d("5.89"), ComparisonRate: dp("6.02")}.SameRates(row))
}

func TestLive(t *testing.T) {
	now := time.Now()
	assert.True(t, ProductRate{EffectiveFrom: now}.Live())
	assert.False(t, ProductRate{EffectiveFrom: now, EffectiveTo: &now}.Live())
}
