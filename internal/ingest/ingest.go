// Package ingest defines the cloud-provider ingester contract: one
// operation producing a full set of graph primitives that the graph
// store treats as a wholesale replacement. Concrete sources live in
// internal/ingest/mock (synthetic data) and internal/ingest/aws (live
// AWS IAM walk).
package ingest

import (
	"context"

	"breachmap/internal/domain"
)

// Ingester translates a cloud account's IAM state into graph primitives.
type Ingester interface {
	Ingest(ctx context.Context) ([]domain.Node, []domain.Edge, error)
}
