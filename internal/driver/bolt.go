package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// BoltDriver wraps the neo4j driver with reconnect-with-backoff semantics:
// on connectivity loss, queries fail fast with ErrStoreUnavailable while a
// background loop retries the connection at increasing delays.
type BoltDriver struct {
	Driver neo4j.DriverWithContext
	Log    *zap.Logger

	maxReconnectAttempts int

	mu           sync.Mutex
	down         bool
	reconnecting bool
}

const defaultMaxReconnectAttempts = 8

func NewBoltDriver(uri, username, password string, log *zap.Logger) (*BoltDriver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := d.VerifyConnectivity(context.Background()); err != nil {
		return nil, err
	}
	log.Info("connected to graph store", zap.String("uri", uri))
	return &BoltDriver{
		Driver:               d,
		Log:                  log,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
	}, nil
}

func (d *BoltDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *BoltDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	d.mu.Lock()
	if d.down {
		d.mu.Unlock()
		return neo4j.EagerResult{}, ErrStoreUnavailable
	}
	d.mu.Unlock()

	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		if isConnectivityError(err) {
			d.markDown()
			return neo4j.EagerResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *BoltDriver) markDown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return
	}
	d.down = true
	if !d.reconnecting {
		d.reconnecting = true
		go d.reconnectLoop()
	}
}

// reconnectLoop probes connectivity with doubling delays, bounded by
// maxReconnectAttempts. Queries issued while the loop runs fail open with
// ErrStoreUnavailable.
func (d *BoltDriver) reconnectLoop() {
	delay := time.Second
	for attempt := 1; attempt <= d.maxReconnectAttempts; attempt++ {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.Driver.VerifyConnectivity(ctx)
		cancel()
		if err == nil {
			d.Log.Info("graph store reconnected", zap.Int("attempt", attempt))
			d.mu.Lock()
			d.down = false
			d.reconnecting = false
			d.mu.Unlock()
			return
		}
		d.Log.Warn("graph store reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay*2),
			zap.Error(err))
		delay *= 2
	}
	d.Log.Error("graph store reconnect attempts exhausted",
		zap.Int("attempts", d.maxReconnectAttempts))
	d.mu.Lock()
	d.reconnecting = false
	d.mu.Unlock()
}

func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no route to host", "connectivity", "server is unavailable",
		"pool closed", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (d *BoltDriver) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX ON :Memory(category);",
		"CREATE INDEX ON :Memory(app_id);",
		"CREATE INDEX ON :Memory(created_at);",
	}
	for _, q := range queries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// Index may already exist; log and continue.
			d.Log.Warn("failed to create index", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}
