package port

import (
	"context"
	"time"
)

// Notifier delivers a plaintext code to the owner of the address. The core
// has no knowledge of the transport or content formatting; validity is
// passed along for display purposes only.
type Notifier interface {
	Send(ctx context.Context, address, code string, validity time.Duration) error
}
