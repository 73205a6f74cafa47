package model

import "time"

const (
	ChannelRetail Channel = "retail"
	ChannelBroker Channel = "broker"

	PurposePurchase  Purpose = "purchase"
	PurposeRefinance Purpose = "refinance"
	PurposeAny       Purpose = "any"

	OwnerOccupier OwnerType = "owner_occupier"
	Investor      OwnerType = "investor"

	PrincipalAndInterest RepaymentType = "principal_and_interest"
	InterestOnly         RepaymentType = "interest_only"
)

type Channel string
type Purpose string
type OwnerType string
type RepaymentType string

// Brand is a lender identity. Rows are immutable once created.
type Brand struct {
	ID   int64
	Code string
	Name string
}

// Product is the durable identity for one externally published loan product.
// Products are never hard-deleted; IsActive flips to false when the product
// disappears from its source feed so that rate history survives.
type Product struct {
	ID             int64
	BrandID        int64
	ExternalID     string
	Name           string
	Channel        Channel
	Purpose        Purpose
	OwnerTypes     []OwnerType
	RepaymentTypes []RepaymentType
	IsActive       bool
	UpdatedAt      time.Time
}

// ProductAttrs carries the descriptive fields a source reports for a product,
// used when registering or reactivating it.
type ProductAttrs struct {
	Name           string
	Channel        Channel
	Purpose        Purpose
	OwnerTypes     []OwnerType
	RepaymentTypes []RepaymentType
}

// SourceProduct is one entry of a brand source's current product listing.
type SourceProduct struct {
	ExternalID string
	Attrs      ProductAttrs
}

// RawProduct holds the most recent unparsed payload fetched for a product.
// Only the latest snapshot is kept; each successful fetch overwrites it.
type RawProduct struct {
	ProductID int64
	Payload   []byte
	FetchedAt time.Time
}
