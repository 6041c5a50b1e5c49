package fingerprint

import (
	"context"
	"time"

	"github.com/erasmus-project/esrp/protocol"
)

// Cache maps an idempotency key to the Response a server already produced
// for it. Per §4.2, servers lacking a client-supplied idempotency_key must
// synthesize one from the payload hash and retain the mapping for at least
// mode.timeout_ms, returning the cached Response (with the original
// request_id) for subsequent requests bearing the same key.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached Response for key, or found=false if absent or
	// expired.
	Get(ctx context.Context, key string) (resp *protocol.Response, found bool, err error)

	// Put stores resp under key for at least ttl. Implementations should
	// not overwrite an existing entry for the same key (first writer
	// wins) so concurrent duplicate requests converge on one response.
	Put(ctx context.Context, key string, resp *protocol.Response, ttl time.Duration) error
}
