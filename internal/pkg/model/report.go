package model

import "time"

// ReconcileReport summarizes what one reconciliation did to a product's
// live tier window.
type ReconcileReport struct {
	ProductID         int64
	Opened            int
	Closed            int
	Unchanged         int
	DroppedDuplicates int
	DroppedInvalid    int
}

// Changed reports whether the reconciliation touched any rows.
func (r ReconcileReport) Changed() bool { return r.Opened > 0 || r.Closed > 0 }

// ProductFailure is one product's failure entry in a run report.
type ProductFailure struct {
	ProductID  int64  `json:"product_id"`
	Brand      string `json:"brand"`
	ExternalID string `json:"external_id"`
	Stage      string `json:"stage"` // fetch, parse or reconcile
	Reason     string `json:"reason"`
}

// RunReport is the outcome of one whole harvest run. Per-product failures
// are collected here rather than aborting the run.
type RunReport struct {
	RunID      string           `json:"run_id"`
	Forced     bool             `json:"forced"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Processed  int              `json:"products_processed"`
	Failed     int              `json:"products_failed"`
	TimedOut   bool             `json:"timed_out"`
	Failures   []ProductFailure `json:"failures,omitempty"`
}

// ProductWithRates is the read-side join of a product and its live tiers,
// ordered by annual rate ascending.
type ProductWithRates struct {
	Product Product
	Rates   []ProductRate
}

// LiveRateRow is one row of the flattened cross-product rate comparison view.
type LiveRateRow struct {
	BrandCode   string
	BrandName   string
	ProductID   int64
	ProductName string
	Rate        ProductRate
}
