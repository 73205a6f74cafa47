package harvester

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

const (
	meridianCode = "meridian"
	meridianName = "Meridian Bank"
)

// Meridian publishes no product API, only a rates page per product. The
// catalogue of pages is maintained here.
var meridianCatalogue = []model.SourceProduct{
	{
		ExternalID: "classic-variable",
		Attrs: model.ProductAttrs{
			Name:           "Meridian Classic Home Loan",
			Channel:        model.ChannelRetail,
			Purpose:        model.PurposeAny,
			OwnerTypes:     []model.OwnerType{model.OwnerOccupier},
			RepaymentTypes: []model.RepaymentType{model.PrincipalAndInterest},
		},
	},
	{
		ExternalID: "investor-loan",
		Attrs: model.ProductAttrs{
			Name:           "Meridian Investor Home Loan",
			Channel:        model.ChannelRetail,
			Purpose:        model.PurposeAny,
			OwnerTypes:     []model.OwnerType{model.Investor},
			RepaymentTypes: []model.RepaymentType{model.PrincipalAndInterest, model.InterestOnly},
		},
	},
}

var _ Source = &MeridianSource{}

// MeridianSource scrapes Meridian's per-product rates pages. Each page holds
// one table of rate tiers: a header row of LVR bands, then one row per rate
// type and term, each cell carrying "annual% (comparison%)".
type MeridianSource struct {
	baseURL string
	fetcher *Fetcher
	logger  *zap.Logger
}

func NewMeridianSource(baseURL string, fetcher *Fetcher, logger *zap.Logger) *MeridianSource {
	return &MeridianSource{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher, logger: logger}
}

func (m *MeridianSource) BrandCode() string { return meridianCode }
func (m *MeridianSource) BrandName() string { return meridianName }

func (m *MeridianSource) List(_ context.Context) ([]model.SourceProduct, error) {
	return meridianCatalogue, nil
}

func (m *MeridianSource) FetchRaw(ctx context.Context, externalID string) ([]byte, error) {
	body, attempts, err := m.fetcher.Get(ctx, m.baseURL+"/"+externalID)
	if err != nil {
		return nil, model.FetchError{Brand: meridianCode, ExternalID: externalID, Attempts: attempts, Err: err}
	}
	return body, nil
}

func (m *MeridianSource) Parse(raw []byte) ([]model.TierCandidate, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	changedOn := m.parseEffectiveDate(doc)

	// this is the shaky part. If they restructure the page, it fails here
	marker, err := htmlquery.QueryAll(doc, "//table//tr/td[contains(., 'LVR')]")
	if err != nil {
		return nil, fmt.Errorf("failed to xpath rates table: %w", err)
	}
	if len(marker) == 0 {
		return nil, fmt.Errorf("no rates table found, source structure may have changed")
	}

	table := marker[0]
	for table != nil && table.Data != "table" {
		table = table.Parent
	}
	if table == nil {
		return nil, fmt.Errorf("LVR marker cell has no enclosing table")
	}

	return m.parseTable(table, changedOn)
}

func (m *MeridianSource) parseTable(table *html.Node, changedOn *civil.Date) ([]model.TierCandidate, error) {
	rowNodes, err := htmlquery.QueryAll(table, "//tr")
	if err != nil {
		return nil, fmt.Errorf("failed to xpath rows: %w", err)
	}

	rows, err := parseRows(rowNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("rates table has no rows")
	}
	if !strings.Contains(rows[0].title, "LVR") {
		return nil, fmt.Errorf("source table structure seems to have changed... fix parser?")
	}
	// only the band header: the page currently publishes zero tiers
	if len(rows) == 1 {
		return []model.TierCandidate{}, nil
	}

	lvrBands, err := parseLVRBands(rows[0].fields)
	if err != nil {
		return nil, fmt.Errorf("failed to extract LVR bands from header row: %w", err)
	}

	tiers := make([]model.TierCandidate, 0, (len(rows)-1)*len(lvrBands))
	for _, row := range rows[1:] {
		rateType, termMonths, err := parseTierTitle(row.title)
		if err != nil {
			m.logger.Warn("dropping unrecognized tier row", zap.String("title", row.title), zap.Error(err))
			continue
		}
		for i, cell := range row.fields {
			if i >= len(lvrBands) {
				break
			}
			annual, comparison, err := parseRateCell(cell)
			if err != nil {
				m.logger.Warn("dropping malformed rate cell",
					zap.String("row", row.title), zap.String("cell", cell), zap.Error(err))
				continue
			}
			lvr := lvrBands[i]
			tier := model.TierCandidate{
				RateType:        rateType,
				AnnualRate:      annual,
				ComparisonRate:  comparison,
				FixedTermMonths: termMonths,
				LVRMax:          &lvr,
				SourceChangedOn: changedOn,
			}
			if err := tier.Validate(); err != nil {
				m.logger.Warn("dropping implausible tier",
					zap.String("row", row.title), zap.String("cell", cell), zap.Error(err))
				continue
			}
			tiers = append(tiers, tier)
		}
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("all %d tier rows were malformed", len(rows)-1)
	}
	return tiers, nil
}

func (m *MeridianSource) parseEffectiveDate(doc *html.Node) *civil.Date {
	node, err := htmlquery.Query(doc, "//*[contains(text(), 'Rates effective')]")
	if err != nil || node == nil {
		return nil
	}

	text := getAllTextFromNode(node)
	match := regexp.MustCompile(`Rates effective (\d{1,2} \w+ \d{4})`).FindStringSubmatch(text)
	if match == nil {
		m.logger.Warn("failed to parse rates-effective caption", zap.String("text", text))
		return nil
	}

	t, err := time.Parse("2 January 2006", match[1])
	if err != nil {
		m.logger.Warn("failed to parse rates-effective date", zap.String("date", match[1]), zap.Error(err))
		return nil
	}
	d := civil.DateOf(t)
	return &d
}

func parseRateCell(cell string) (annual decimal.Decimal, comparison *decimal.Decimal, err error) {
	sanitized := regexp.MustCompile(`\s+`).ReplaceAllString(cell, " ")
	sanitized = strings.ReplaceAll(sanitized, "%", "")
	sanitized = strings.ReplaceAll(sanitized, "*", "")
	sanitized = strings.ReplaceAll(sanitized, "(", "")
	sanitized = strings.ReplaceAll(sanitized, ")", "")
	sanitized = strings.TrimSpace(sanitized)

	parts := strings.Fields(sanitized)
	if len(parts) == 0 {
		return decimal.Decimal{}, nil, fmt.Errorf("empty rate cell '%s'", cell)
	}
	annual, err = decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("failed to parse annual rate from cell '%s' (sanitized: '%s'): %w", cell, sanitized, err)
	}

	if len(parts) > 1 {
		c, err := decimal.NewFromString(parts[1])
		if err != nil {
			return decimal.Decimal{}, nil, fmt.Errorf("failed to parse comparison rate from cell '%s' (sanitized: '%s'): %w", cell, sanitized, err)
		}
		comparison = &c
	}

	return annual, comparison, nil
}

func parseLVRBands(fields []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(fields))
	for _, band := range fields {
		cleaned := regexp.MustCompile(`\s+`).ReplaceAllString(band, "")
		switch cleaned {
		case "≤60%", "<=60%":
			out = append(out, decimal.RequireFromString("0.6"))
		case "60-70%":
			out = append(out, decimal.RequireFromString("0.7"))
		case "70-80%":
			out = append(out, decimal.RequireFromString("0.8"))
		case "80-90%":
			out = append(out, decimal.RequireFromString("0.9"))
		default:
			return nil, fmt.Errorf("failed to parse LVR band from string '%s' (sanitized: '%s')", band, cleaned)
		}
	}
	return out, nil
}

func parseTierTitle(title string) (model.RateType, *int, error) {
	cleaned := strings.ToLower(regexp.MustCompile(`\s+`).ReplaceAllString(title, ""))
	if cleaned == "variable" {
		return model.RateTypeVariable, nil, nil
	}
	if cleaned == "introvariable" {
		return model.RateTypeIntro, nil, nil
	}
	if match := regexp.MustCompile(`^(\d{1,2})yrfixed$`).FindStringSubmatch(cleaned); match != nil {
		years, err := strconv.Atoi(match[1])
		if err != nil {
			return "", nil, fmt.Errorf("failed to parse fixed term from '%s': %w", title, err)
		}
		months := years * 12
		return model.RateTypeFixed, &months, nil
	}
	return "", nil, fmt.Errorf("failed to parse tier title from string '%s' (sanitized: '%s')", title, cleaned)
}

func parseRows(rows []*html.Node) ([]rowStruct, error) {
	rowStructs := make([]rowStruct, 0, len(rows))
	for _, rowNode := range rows {
		cells, err := htmlquery.QueryAll(rowNode, "//td")
		if err != nil {
			return nil, fmt.Errorf("failed to xpath cells: %w", err)
		}
		if len(cells) == 0 {
			continue
		}

		titleCellText := getAllTextFromNode(cells[0])
		fieldTexts := make([]string, 0, len(cells)-1)
		for _, cell := range cells[1:] {
			fieldTexts = append(fieldTexts, getAllTextFromNode(cell))
		}

		rowStructs = append(rowStructs, rowStruct{
			title:  titleCellText,
			fields: fieldTexts,
		})
	}

	return rowStructs, nil
}

func getAllTextFromNode(node *html.Node) string {
	out := ""
	if node != nil {
		if node.Type == html.TextNode {
			out += " " + node.Data
		}

		// iterate over children
		nextNode := node.FirstChild
		for nextNode != nil {
			out += " " + getAllTextFromNode(nextNode)
			nextNode = nextNode.NextSibling
		}
	}

	// sanitize text
	out = strings.ReplaceAll(out, " ", " ")                    // weird invisible space that's not a space
	out = regexp.MustCompile(`\s+`).ReplaceAllString(out, " ") // merge multi-spaces
	out = strings.Trim(out, " ")                               // trim spaces left and right
	return out
}

type rowStruct struct {
	title  string
	fields []string
}
