package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

var _ Store = &Postgres{}

// Postgres persists the harvester's state in postgres. The rate history is
// append-only; a partial unique index over the tier key enforces at most one
// live row per tier at the database as well as in the engine.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS brand (
	id   bigserial PRIMARY KEY,
	code text NOT NULL UNIQUE,
	name text NOT NULL
);

CREATE TABLE IF NOT EXISTS product (
	id              bigserial PRIMARY KEY,
	brand_id        bigint NOT NULL REFERENCES brand (id),
	external_id     text NOT NULL,
	name            text NOT NULL,
	channel         text NOT NULL,
	purpose         text NOT NULL,
	owner_types     text[] NOT NULL DEFAULT '{}',
	repayment_types text[] NOT NULL DEFAULT '{}',
	is_active       boolean NOT NULL DEFAULT true,
	updated_at      timestamptz NOT NULL DEFAULT now(),
	UNIQUE (brand_id, external_id)
);

CREATE TABLE IF NOT EXISTS raw_product (
	product_id bigint PRIMARY KEY REFERENCES product (id),
	payload    bytea NOT NULL,
	fetched_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS product_rate (
	id                bigserial PRIMARY KEY,
	product_id        bigint NOT NULL REFERENCES product (id),
	rate_type         text NOT NULL,
	annual_rate       numeric(6,4) NOT NULL,
	comparison_rate   numeric(6,4),
	fixed_term_months integer,
	lvr_max           numeric(5,4),
	source_changed_on date,
	effective_from    timestamptz NOT NULL,
	effective_to      timestamptz,
	CHECK (effective_to IS NULL OR effective_from < effective_to)
);

CREATE UNIQUE INDEX IF NOT EXISTS product_rate_live_tier_uq
	ON product_rate (product_id, rate_type, COALESCE(fixed_term_months, -1), COALESCE(lvr_max, -1))
	WHERE effective_to IS NULL;

CREATE INDEX IF NOT EXISTS product_rate_live_idx
	ON product_rate (product_id) WHERE effective_to IS NULL;
`

func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureBrand(ctx context.Context, code, name string) (model.Brand, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brand (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`,
		code, name)
	if err != nil {
		return model.Brand{}, fmt.Errorf("failed to insert brand %s: %w", code, err)
	}

	var b model.Brand
	err = s.pool.QueryRow(ctx, `SELECT id, code, name FROM brand WHERE code = $1`, code).
		Scan(&b.ID, &b.Code, &b.Name)
	if err != nil {
		return model.Brand{}, fmt.Errorf("failed to load brand %s: %w", code, err)
	}
	return b, nil
}

func (s *Postgres) FindOrCreateProduct(ctx context.Context, brandID int64, externalID string, attrs model.ProductAttrs) (model.Product, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO product (brand_id, external_id, name, channel, purpose, owner_types, repayment_types, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, now())
		ON CONFLICT (brand_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			channel = EXCLUDED.channel,
			purpose = EXCLUDED.purpose,
			owner_types = EXCLUDED.owner_types,
			repayment_types = EXCLUDED.repayment_types,
			is_active = true
		RETURNING id, brand_id, external_id, name, channel, purpose, owner_types, repayment_types, is_active, updated_at`,
		brandID, externalID, attrs.Name, string(attrs.Channel), string(attrs.Purpose),
		ownerTypeStrings(attrs.OwnerTypes), repaymentTypeStrings(attrs.RepaymentTypes))

	p, err := scanProduct(row)
	if err != nil {
		return model.Product{}, fmt.Errorf("failed to upsert product %d/%s: %w", brandID, externalID, err)
	}
	return p, nil
}

func (s *Postgres) ListActiveProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, brand_id, external_id, name, channel, purpose, owner_types, repayment_types, is_active, updated_at
		FROM product WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) DeactivateMissing(ctx context.Context, brandID int64, seen []string) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE product SET is_active = false
		WHERE brand_id = $1 AND is_active AND NOT (external_id = ANY($2))`,
		brandID, seen)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate missing products of brand %d: %w", brandID, err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *Postgres) UpsertRawProduct(ctx context.Context, productID int64, payload []byte, fetchedAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO raw_product (product_id, payload, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at
		WHERE raw_product.fetched_at <= EXCLUDED.fetched_at`,
		productID, payload, fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert raw snapshot for product %d: %w", productID, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("snapshot for product %d fetched at %s is older than the stored one", productID, fetchedAt)
	}
	return nil
}

func (s *Postgres) GetRawProduct(ctx context.Context, productID int64) (model.RawProduct, error) {
	var r model.RawProduct
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, payload, fetched_at FROM raw_product WHERE product_id = $1`, productID).
		Scan(&r.ProductID, &r.Payload, &r.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RawProduct{}, model.ErrNotFound
	}
	if err != nil {
		return model.RawProduct{}, fmt.Errorf("failed to load raw snapshot for product %d: %w", productID, err)
	}
	return r, nil
}

func (s *Postgres) LiveRates(ctx context.Context, productID int64) ([]model.ProductRate, error) {
	rows, err := s.pool.Query(ctx, rateSelect+`WHERE product_id = $1 AND effective_to IS NULL ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load live rates for product %d: %w", productID, err)
	}
	defer rows.Close()
	return scanRates(rows)
}

func (s *Postgres) ApplyReconciliation(ctx context.Context, productID int64, asOf time.Time, closeIDs []int64, inserts []model.TierCandidate) error {
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if len(closeIDs) > 0 {
			ct, err := tx.Exec(ctx, `
				UPDATE product_rate SET effective_to = $1
				WHERE id = ANY($2) AND product_id = $3 AND effective_to IS NULL`,
				asOf, closeIDs, productID)
			if err != nil {
				return fmt.Errorf("failed to close rate rows: %w", err)
			}
			if int(ct.RowsAffected()) != len(closeIDs) {
				return fmt.Errorf("closed %d of %d rate rows, aborting", ct.RowsAffected(), len(closeIDs))
			}
		}

		for _, c := range inserts {
			_, err := tx.Exec(ctx, `
				INSERT INTO product_rate
					(product_id, rate_type, annual_rate, comparison_rate, fixed_term_months, lvr_max, source_changed_on, effective_from)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				productID, string(c.RateType), c.AnnualRate.String(), decimalArg(c.ComparisonRate),
				c.FixedTermMonths, decimalArg(c.LVRMax), dateArg(c.SourceChangedOn), asOf)
			if err != nil {
				return fmt.Errorf("failed to insert rate row %s: %w", c.Key(), err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE product SET updated_at = $1 WHERE id = $2`, asOf, productID); err != nil {
			return fmt.Errorf("failed to bump product %d: %w", productID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconciliation transaction for product %d: %w", productID, err)
	}
	return nil
}

func (s *Postgres) ActiveProductsWithLiveRates(ctx context.Context, topN int) ([]model.ProductWithRates, error) {
	products, err := s.ListActiveProducts(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, rateSelect+`
		WHERE effective_to IS NULL
		  AND product_id IN (SELECT id FROM product WHERE is_active)
		ORDER BY annual_rate ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load live rates: %w", err)
	}
	defer rows.Close()

	rates, err := scanRates(rows)
	if err != nil {
		return nil, err
	}

	byProduct := make(map[int64][]model.ProductRate, len(products))
	for _, r := range rates {
		if topN > 0 && len(byProduct[r.ProductID]) >= topN {
			continue
		}
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}

	out := make([]model.ProductWithRates, 0, len(products))
	for _, p := range products {
		out = append(out, model.ProductWithRates{Product: p, Rates: byProduct[p.ID]})
	}
	return out, nil
}

func (s *Postgres) AllLiveRates(ctx context.Context) ([]model.LiveRateRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.code, b.name, p.id, p.name,
		       r.id, r.product_id, r.rate_type, r.annual_rate::text, r.comparison_rate::text,
		       r.fixed_term_months, r.lvr_max::text, r.source_changed_on, r.effective_from, r.effective_to
		FROM product_rate r
		JOIN product p ON p.id = r.product_id AND p.is_active
		JOIN brand b ON b.id = p.brand_id
		WHERE r.effective_to IS NULL
		ORDER BY r.annual_rate ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison view: %w", err)
	}
	defer rows.Close()

	var out []model.LiveRateRow
	for rows.Next() {
		var row model.LiveRateRow
		rate, err := scanRateFields(rows, &row.BrandCode, &row.BrandName, &row.ProductID, &row.ProductName)
		if err != nil {
			return nil, err
		}
		row.Rate = rate
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() { s.pool.Close() }

const rateSelect = `
	SELECT id, product_id, rate_type, annual_rate::text, comparison_rate::text,
	       fixed_term_months, lvr_max::text, source_changed_on, effective_from, effective_to
	FROM product_rate
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (model.Product, error) {
	var p model.Product
	var channel, purpose string
	var owners, repayments []string
	err := row.Scan(&p.ID, &p.BrandID, &p.ExternalID, &p.Name, &channel, &purpose,
		&owners, &repayments, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		return model.Product{}, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Channel = model.Channel(channel)
	p.Purpose = model.Purpose(purpose)
	for _, o := range owners {
		p.OwnerTypes = append(p.OwnerTypes, model.OwnerType(o))
	}
	for _, r := range repayments {
		p.RepaymentTypes = append(p.RepaymentTypes, model.RepaymentType(r))
	}
	return p, nil
}

func scanRates(rows pgx.Rows) ([]model.ProductRate, error) {
	var out []model.ProductRate
	for rows.Next() {
		r, err := scanRateFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRateFields scans a product_rate row, optionally preceded by extra
// leading columns (the comparison view joins brand and product names).
func scanRateFields(row rowScanner, leading ...interface{}) (model.ProductRate, error) {
	var r model.ProductRate
	var rateType, annual string
	var comparison, lvr *string
	var changedOn *time.Time

	dest := append(leading,
		&r.ID, &r.ProductID, &rateType, &annual, &comparison,
		&r.FixedTermMonths, &lvr, &changedOn, &r.EffectiveFrom, &r.EffectiveTo)
	if err := row.Scan(dest...); err != nil {
		return model.ProductRate{}, fmt.Errorf("failed to scan rate row: %w", err)
	}

	r.RateType = model.RateType(rateType)
	var err error
	if r.AnnualRate, err = decimal.NewFromString(annual); err != nil {
		return model.ProductRate{}, fmt.Errorf("failed to parse annual rate %q: %w", annual, err)
	}
	if comparison != nil {
		d, err := decimal.NewFromString(*comparison)
		if err != nil {
			return model.ProductRate{}, fmt.Errorf("failed to parse comparison rate %q: %w", *comparison, err)
		}
		r.ComparisonRate = &d
	}
	if lvr != nil {
		d, err := decimal.NewFromString(*lvr)
		if err != nil {
			return model.ProductRate{}, fmt.Errorf("failed to parse lvr %q: %w", *lvr, err)
		}
		r.LVRMax = &d
	}
	if changedOn != nil {
		d := civil.DateOf(*changedOn)
		r.SourceChangedOn = &d
	}
	return r, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func dateArg(d *civil.Date) interface{} {
	if d == nil {
		return nil
	}
	return d.In(time.UTC)
}

func ownerTypeStrings(in []model.OwnerType) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, string(v))
	}
	return out
}

func repaymentTypeStrings(in []model.RepaymentType) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, string(v))
	}
	return out
}
