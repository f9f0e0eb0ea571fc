package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/acme/pbx-autodialer/internal/config"
	"github.com/acme/pbx-autodialer/internal/dialer"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

// Adapter simulates a telephony backend for local runs: it accepts
// most originations after a short delay and rejects the rest.
type Adapter struct {
	successRate float64
	timeout     time.Duration
	rng         *rand.Rand
}

// NewAdapter constructs a mock adapter with deterministic randomness.
func NewAdapter(cfg config.DialerConfig) *Adapter {
	seed := time.Now().UnixNano()
	return &Adapter{
		successRate: 0.9,
		timeout:     cfg.RequestTimeout,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Originate simulates placing a call.
func (a *Adapter) Originate(ctx context.Context, req dialer.OriginationRequest) (string, error) {
	delay := time.Duration(10+a.rng.Intn(40)) * time.Millisecond

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", apperrors.ErrAdapterFailure, ctx.Err())
	case <-time.After(delay):
	}

	if a.rng.Float64() > a.successRate {
		return "", fmt.Errorf("%w: originate rejected: -ERR GATEWAY_DOWN", apperrors.ErrAdapterFailure)
	}

	return uuid.New().String(), nil
}
