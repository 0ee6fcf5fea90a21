package ports

//go:generate mockgen -source=health.go -destination=mocks/mock_health.go -package=mocks

import "context"

// HealthChecker is a backing store probed by GET /health. Any failing checker
// turns the report degraded and the endpoint answers 503.
type HealthChecker interface {
	Ping(ctx context.Context) error
	// Name labels the checker in the report: "postgresql", "redis", "memory".
	Name() string
}
