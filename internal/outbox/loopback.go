package outbox

import (
	"context"

	"github.com/google/uuid"
)

// Loopback is a development transport that confirms every send immediately
// with a generated server id. Real clients embed the cache with their own
// Transport; the standalone daemon uses Loopback so the full queue lifecycle
// can be exercised without a network.
type Loopback struct{}

// SendMessage implements Transport.
func (Loopback) SendMessage(_ context.Context, _ Payload) (string, error) {
	return "loopback-" + uuid.NewString(), nil
}
