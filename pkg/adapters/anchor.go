package adapters

import (
	"context"
	"time"
)

// AnchorWriter publishes a batch identifier to an external ledger and
// returns the resulting transaction hash. Implementations must be
// idempotent per (batchID, chain).
type AnchorWriter interface {
	Anchor(ctx context.Context, batchID, chain string) (txHash string, anchoredAt time.Time, err error)
}

// MockAnchorWriter is the default ledger writer: it records a deterministic
// transaction identifier derived from the batch id. No chain interaction.
type MockAnchorWriter struct {
	Prefix string
	clock  func() time.Time
}

func NewMockAnchorWriter(prefix string) *MockAnchorWriter {
	return &MockAnchorWriter{Prefix: prefix, clock: time.Now}
}

// WithClock overrides the timestamp source for deterministic tests.
func (w *MockAnchorWriter) WithClock(clock func() time.Time) *MockAnchorWriter {
	w.clock = clock
	return w
}

func (w *MockAnchorWriter) Anchor(ctx context.Context, batchID, chain string) (string, time.Time, error) {
	return w.Prefix + batchID, w.clock().UTC(), nil
}
