// Package allocation provides the business boundary for portfolio allocation.
// It defines the Service (validation, data fetch, fallback, persistence, async
// notification), Engine (pure weight bucketing and speculative overlay), Store
// interface (persistence), and domain models.
package allocation
