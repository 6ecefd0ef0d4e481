package kvbrowse

import (
	"context"
	"time"
)

// KeyType mirrors the remote store's reply to a TYPE query.
type KeyType string

const (
	TypeNone   KeyType = "none"
	TypeString KeyType = "string"
	TypeHash   KeyType = "hash"
	TypeList   KeyType = "list"
	TypeSet    KeyType = "set"
	TypeZSet   KeyType = "zset"
	TypeStream KeyType = "stream"
)

// ScoredMember is one member of a sorted set.
type ScoredMember struct {
	Member string
	Score  float64
}

// StreamEntry is one entry of a stream read.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// Value is the tagged result of a typed key read. Exactly the field matching
// Type is populated; TTL is carried alongside when known (-1 means no expiry).
type Value struct {
	Type   KeyType
	Str    string
	Hash   map[string]string
	List   []string
	Set    []string
	ZSet   []ScoredMember
	Stream []StreamEntry
	TTL    time.Duration
}

// StoreClient is the remote-store collaborator. Every call blocks, must be
// safe to invoke from any goroutine, and owns its own wire-level retry and
// timeout behavior beneath the context deadline the engine supplies.
type StoreClient interface {
	Ping(ctx context.Context) error
	// Scan returns one page of key names matching pattern, plus the cursor
	// to resume from. A returned cursor of 0 means iteration is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)
	DBSize(ctx context.Context) (int64, error)
	TypeOf(ctx context.Context, key string) (KeyType, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Rename(ctx context.Context, oldKey string, newKey string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HScan, SScan and ZScan page through collection members cursor-wise,
	// mirroring the keyspace Scan contract: next 0 means done.
	HScan(ctx context.Context, key string, cursor uint64, count int64) (fields map[string]string, next uint64, err error)
	SScan(ctx context.Context, key string, cursor uint64, count int64) (members []string, next uint64, err error)
	ZScan(ctx context.Context, key string, cursor uint64, count int64) (members []ScoredMember, next uint64, err error)
	LRange(ctx context.Context, key string, start int64, stop int64) ([]string, error)
	XRange(ctx context.Context, key string, count int64) ([]StreamEntry, error)

	Info(ctx context.Context, sections ...string) (string, error)
	// Do executes an arbitrary command verbatim, for the interactive console.
	Do(ctx context.Context, args ...any) (any, error)
	SelectDB(ctx context.Context, db int) error
}

// ConnMonitor is the connection-manager collaborator surface the engine
// needs: a way to learn that the live connection went away so in-flight
// pagination sessions can transition to Failed.
type ConnMonitor interface {
	// OnDown registers fn to be invoked once when the connection is lost or
	// closed. fn must be cheap; it is called from the closer's goroutine.
	OnDown(fn func())
}
