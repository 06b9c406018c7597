package health

import "context"

// DBPinger checks persistence backend availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc is an extra named component check.
type CheckFunc func(ctx context.Context) error
