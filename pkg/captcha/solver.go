// Package captcha solves challenge widgets through an external solving service.
package captcha

//go:generate mockgen -source=solver.go -destination=mocks/mock_solver.go -package=mocks

import "context"

// Solver turns a challenge on pageURL, identified by siteKey, into a response
// token the page accepts.
type Solver interface {
	Solve(ctx context.Context, pageURL, siteKey string) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, pageURL, siteKey string) (string, error)

// Solve implements Solver.
func (f SolverFunc) Solve(ctx context.Context, pageURL, siteKey string) (string, error) {
	return f(ctx, pageURL, siteKey)
}
