// Package gateway defines the contract for warden's network entry points.
package gateway

import "context"

// Gateway is an entry point served by `warden serve`.
type Gateway interface {
	// Start serves until ctx is canceled or the listener fails.
	Start(ctx context.Context) error

	// Stop drains in-flight requests within the deadline carried by ctx.
	Stop(ctx context.Context) error
}
