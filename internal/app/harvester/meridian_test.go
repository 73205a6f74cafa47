package harvester

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

const meridianFixture = `<!DOCTYPE html>
<html><body>
<h1>Home loan interest rates</h1>
<p class="caption">Rates effective 18 August 2026</p>
<table>
  <tbody>
    <tr><td><b>LVR</b></td><td>≤60%</td><td>60-70%</td><td>70-80%</td></tr>
    <tr><td>Variable</td><td>5.89% (6.01%)</td><td>5.99% (6.11%)</td><td>6.09% (6.21%)</td></tr>
    <tr><td>1 yr fixed</td><td>5.49% (5.95%)</td><td>5.59% (6.05%)</td><td>5.69% (6.15%)</td></tr>
    <tr><td>3 yr fixed</td><td>5.29% (5.80%)</td><td>5.39% (5.90%)</td><td>5.49% (6.00%)</td></tr>
  </tbody>
</table>
</body></html>`

func newTestMeridian() *MeridianSource {
	return NewMeridianSource("https://example.test/rates", nil, zap.NewNop())
}

func TestMeridianParse(t *testing.T) {
	tiers, err := newTestMeridian().Parse([]byte(meridianFixture))
	require.NoError(t, err)
	require.Len(t, tiers, 9, "three rows of three LVR bands each")

	first := tiers[0]
	assert.Equal(t, model.RateTypeVariable, first.RateType)
	assert.True(t, first.AnnualRate.Equal(dec("5.89")))
	require.NotNil(t, first.ComparisonRate)
	assert.True(t, first.ComparisonRate.Equal(dec("6.01")))
	require.NotNil(t, first.LVRMax)
	assert.True(t, first.LVRMax.Equal(dec("0.6")))
	assert.Nil(t, first.FixedTermMonths)

	require.NotNil(t, first.SourceChangedOn)
	assert.Equal(t, civil.Date{Year: 2026, Month: 8, Day: 18}, *first.SourceChangedOn)

	// fixed rows carry their term in months
	var fixedTerms []int
	for _, tier := range tiers {
		if tier.RateType == model.RateTypeFixed {
			require.NotNil(t, tier.FixedTermMonths)
			fixedTerms = append(fixedTerms, *tier.FixedTermMonths)
		}
	}
	assert.ElementsMatch(t, []int{12, 12, 12, 36, 36, 36}, fixedTerms)
}

func TestMeridianParseDropsMalformedCells(t *testing.T) {
	fixture := `<html><body><table><tbody>
		<tr><td>LVR</td><td>≤60%</td><td>60-70%</td></tr>
		<tr><td>Variable</td><td>coming soon</td><td>6.09% (6.21%)</td></tr>
	</tbody></table></body></html>`

	tiers, err := newTestMeridian().Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, tiers, 1, "the malformed cell is dropped, the rest survives")
	assert.True(t, tiers[0].AnnualRate.Equal(dec("6.09")))
}

func TestMeridianParseDropsUnknownRows(t *testing.T) {
	fixture := `<html><body><table><tbody>
		<tr><td>LVR</td><td>≤60%</td></tr>
		<tr><td>Bridging special</td><td>7.99%</td></tr>
		<tr><td>Variable</td><td>6.09% (6.21%)</td></tr>
	</tbody></table></body></html>`

	tiers, err := newTestMeridian().Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, model.RateTypeVariable, tiers[0].RateType)
}

func TestMeridianParseHeaderOnlyTableMeansZeroTiers(t *testing.T) {
	// a well-formed table with only the band header offers zero tiers,
	// which is a valid statement rather than a parse failure
	fixture := `<html><body><table><tbody>
		<tr><td>LVR</td><td>≤60%</td><td>60-70%</td></tr>
	</tbody></table></body></html>`

	tiers, err := newTestMeridian().Parse([]byte(fixture))
	require.NoError(t, err)
	assert.Empty(t, tiers)
	assert.NotNil(t, tiers)
}

func TestMeridianParseFailsWhenNothingSurvives(t *testing.T) {
	fixture := `<html><body><table><tbody>
		<tr><td>LVR</td><td>≤60%</td></tr>
		<tr><td>Variable</td><td>n/a</td></tr>
	</tbody></table></body></html>`

	_, err := newTestMeridian().Parse([]byte(fixture))
	require.Error(t, err, "a malformed-but-200 page must not be treated as zero tiers")
}

func TestMeridianParseFailsWithoutRatesTable(t *testing.T) {
	_, err := newTestMeridian().Parse([]byte(`<html><body><p>maintenance</p></body></html>`))
	require.Error(t, err)
}

func TestMeridianParseWithoutCaptionStillParses(t *testing.T) {
	fixture := `<html><body><table><tbody>
		<tr><td>LVR</td><td>≤60%</td></tr>
		<tr><td>Variable</td><td>6.09% (6.21%)</td></tr>
	</tbody></table></body></html>`

	tiers, err := newTestMeridian().Parse([]byte(fixture))
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Nil(t, tiers[0].SourceChangedOn)
}

func TestParseTierTitle(t *testing.T) {
	tests := []struct {
		input    string
		rateType model.RateType
		months   int // -1 for nil
		wantErr  bool
	}{
		{"Variable", model.RateTypeVariable, -1, false},
		{"  Variable  ", model.RateTypeVariable, -1, false},
		{"Intro variable", model.RateTypeIntro, -1, false},
		{"1 yr fixed", model.RateTypeFixed, 12, false},
		{"5 yr fixed", model.RateTypeFixed, 60, false},
		{"10 yr fixed", model.RateTypeFixed, 120, false},
		{"Bridging", "", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			rateType, months, err := parseTierTitle(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rateType, rateType)
			if tt.months == -1 {
				assert.Nil(t, months)
			} else {
				require.NotNil(t, months)
				assert.Equal(t, tt.months, *months)
			}
		})
	}
}

func TestParseRateCell(t *testing.T) {
	annual, comparison, err := parseRateCell(" 5.89 % ( 6.01 % ) *")
	require.NoError(t, err)
	assert.True(t, annual.Equal(dec("5.89")))
	require.NotNil(t, comparison)
	assert.True(t, comparison.Equal(dec("6.01")))

	annual, comparison, err = parseRateCell("6.34%")
	require.NoError(t, err)
	assert.True(t, annual.Equal(dec("6.34")))
	assert.Nil(t, comparison)

	_, _, err = parseRateCell("tba")
	require.Error(t, err)
}
