package harvester

import (
	"context"
	"fmt"

	"github.com/lenderfeed/rate-harvester/internal/pkg/model"
)

// Source is one brand's extraction strategy: it lists the brand's current
// products, fetches a product's raw document and parses that document into
// normalized tier candidates.
type Source interface {
	BrandCode() string
	BrandName() string
	List(ctx context.Context) ([]model.SourceProduct, error)
	FetchRaw(ctx context.Context, externalID string) ([]byte, error)
	Parse(raw []byte) ([]model.TierCandidate, error)
}

// Registry dispatches parsing by brand code. An unknown code is a distinct
// error, never a silent empty tier list: an empty list is a statement the
// reconciliation engine acts on (it closes everything), so only a registered
// parser may produce one.
type Registry struct {
	sources map[string]Source
	order   []string
}

func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, src := range sources {
		code := src.BrandCode()
		if _, dup := r.sources[code]; dup {
			continue
		}
		r.sources[code] = src
		r.order = append(r.order, code)
	}
	return r
}

// Source returns the source registered for the brand code.
func (r *Registry) Source(brandCode string) (Source, error) {
	src, ok := r.sources[brandCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedBrand, brandCode)
	}
	return src, nil
}

// Sources returns all registered sources in registration order.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.sources[code])
	}
	return out
}

// Parse turns a raw snapshot into tier candidates using the brand's parser.
func (r *Registry) Parse(brandCode string, raw []byte) ([]model.TierCandidate, error) {
	src, err := r.Source(brandCode)
	if err != nil {
		return nil, err
	}
	return src.Parse(raw)
}
