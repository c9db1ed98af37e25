package driver

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrStoreUnavailable is returned for any query issued while the connection
// is down and reconnection is still pending. Callers fail open on it rather
// than blocking.
var ErrStoreUnavailable = errors.New("graph store unavailable")

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
