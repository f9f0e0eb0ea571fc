package domain

import (
	"time"

	"github.com/google/uuid"
)

// IncrementMode is the rounding rule converting billed seconds into
// chargeable units.
type IncrementMode string

const (
	// IncrementFullBlock charges whole increments, rounded up.
	IncrementFullBlock IncrementMode = "full_block"
	// IncrementBlockPlusOne charges the first increment in full, then
	// per second.
	IncrementBlockPlusOne IncrementMode = "block_plus_one"
)

// BillingConfig is the per-tenant billing policy. Rows are lazily
// created with zeroed defaults on first access.
type BillingConfig struct {
	TenantID         uuid.UUID
	Currency         string
	RatePerMinute    float64
	IncrementSeconds int
	IncrementMode    IncrementMode
	SetupFee         float64
	Prepaid          bool
	Balance          float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
