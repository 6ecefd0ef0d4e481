// Package redis adapts the go-redis client to the engine's StoreClient
// collaborator interface, and supplies the in-memory mock used by tests.
package redis

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/SharedCode/kvbrowse"
)

// Redis configurable options.
type Options struct {
	// Redis server(cluster) address.
	Address string
	// Username for ACL-enabled servers, empty for default user.
	Username string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
}

// DefaultOptions.
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

// Connection contains the Redis client connection object and the Options
// used to connect. It is the engine's connection-manager collaborator: it
// can reopen on a different DB and signals registered hooks when it goes
// down so in-flight pagination sessions can fail.
type Connection struct {
	mu      sync.Mutex
	client  *redis.Client
	options Options
	down    []func()
	closed  bool
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated returns true if the singleton connection is open.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return connection != nil
}

// OpenConnection creates the singleton connection, verifying reachability
// with a ping retried on Fibonacci backoff before committing to it. Repeated
// calls return the already-open connection.
func OpenConnection(ctx context.Context, options Options) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}
	c, err := open(ctx, options)
	if err != nil {
		return nil, err
	}
	connection = c
	return connection, nil
}

// CloseConnection closes the singleton connection if open and fires its
// down hooks.
func CloseConnection() error {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := connection.Close()
	connection = nil
	return err
}

func open(ctx context.Context, options Options) (*Connection, error) {
	client := newClient(options)

	// Probe before handing the connection out; a dead endpoint should fail
	// the open, not every later operation.
	b := retry.NewFibonacci(200 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(3, b), func(ctx context.Context) error {
		return retry.RetryableError(client.Ping(ctx).Err())
	})
	if err != nil {
		_ = client.Close()
		return nil, kvbrowse.NewError(kvbrowse.ConnectionFailure, err)
	}
	return &Connection{client: client, options: options}, nil
}

func newClient(options Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Username:  options.Username,
		Password:  options.Password,
		DB:        options.DB,
	})
}

// Options returns a copy of the options the connection was opened with.
func (c *Connection) Opts() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// OnDown registers fn to run once when the connection is closed or lost.
func (c *Connection) OnDown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = append(c.down, fn)
}

// Close shuts the underlying client and fires the down hooks.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hooks := c.down
	c.down = nil
	err := c.client.Close()
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return err
}

// selectDB reopens the underlying client against a different logical DB.
// go-redis fixes the DB at dial time, so switching means a fresh client,
// mirroring how the browse UI's DB dropdown reconnects.
func (c *Connection) selectDB(db int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kvbrowse.NewError(kvbrowse.ConnectionFailure, redis.ErrClosed)
	}
	if c.options.DB == db {
		return nil
	}
	old := c.client
	c.options.DB = db
	c.client = newClient(c.options)
	return old.Close()
}

// handle returns the current client under the lock, so a concurrent DB
// switch never hands out a closed client.
func (c *Connection) handle() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}
