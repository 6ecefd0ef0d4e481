package redis

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SharedCode/kvbrowse"
)

// mockItem holds one key of any type. Exactly the field for Type is used.
type mockItem struct {
	typ    kvbrowse.KeyType
	str    string
	hash   map[string]string
	list   []string
	set    []string
	zset   []kvbrowse.ScoredMember
	stream []kvbrowse.StreamEntry
	ttl    time.Duration
}

// MockStore is an in-memory StoreClient for tests: deterministic paged scan
// over sorted key names, glob pattern matching, injectable latency and
// failures. Safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	items   map[string]mockItem
	db      int
	Latency time.Duration
	// FailNext, when non-nil, is returned by the next store operation and
	// then cleared.
	FailNext error
	// ScanCalls counts Scan invocations, for page-ordering assertions.
	ScanCalls int
}

var _ kvbrowse.StoreClient = (*MockStore)(nil)

// NewMockClient returns an empty in-memory store client.
func NewMockClient() *MockStore {
	return &MockStore{items: make(map[string]mockItem)}
}

// Seed helpers (not part of StoreClient).

func (m *MockStore) SeedString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeString, str: value, ttl: -1}
}

func (m *MockStore) SeedHash(key string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeHash, hash: fields, ttl: -1}
}

func (m *MockStore) SeedList(key string, values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeList, list: values, ttl: -1}
}

func (m *MockStore) SeedSet(key string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeSet, set: members, ttl: -1}
}

func (m *MockStore) SeedZSet(key string, members ...kvbrowse.ScoredMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeZSet, zset: members, ttl: -1}
}

func (m *MockStore) SeedStream(key string, entries ...kvbrowse.StreamEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = mockItem{typ: kvbrowse.TypeStream, stream: entries, ttl: -1}
}

// gate applies latency and injected failure, honoring ctx during the wait.
func (m *MockStore) gate(ctx context.Context) error {
	m.mu.Lock()
	lat := m.Latency
	fail := m.FailNext
	m.FailNext = nil
	m.mu.Unlock()

	if lat > 0 {
		select {
		case <-time.After(lat):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}
	return ctx.Err()
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.gate(ctx)
}

// Scan pages over the sorted key names. The cursor is the index of the next
// key to return plus one, so 0 cleanly means both "start" and "done".
func (m *MockStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	if err := m.gate(ctx); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanCalls++

	all := make([]string, 0, len(m.items))
	for k := range m.items {
		all = append(all, k)
	}
	sort.Strings(all)

	start := int(cursor)
	if cursor > 0 {
		start = int(cursor - 1)
	}
	if start >= len(all) {
		return nil, 0, nil
	}
	end := start + int(count)
	if count <= 0 || end > len(all) {
		end = len(all)
	}

	page := make([]string, 0, end-start)
	for _, k := range all[start:end] {
		if matchPattern(pattern, k) {
			page = append(page, k)
		}
	}
	next := uint64(end + 1)
	if end >= len(all) {
		next = 0
	}
	return page, next, nil
}

func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

func (m *MockStore) DBSize(ctx context.Context) (int64, error) {
	if err := m.gate(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

func (m *MockStore) TypeOf(ctx context.Context, key string) (kvbrowse.KeyType, error) {
	if err := m.gate(ctx); err != nil {
		return kvbrowse.TypeNone, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return kvbrowse.TypeNone, nil
	}
	return it.typ, nil
}

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	if err := m.gate(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return "", nil
	}
	if it.typ != kvbrowse.TypeString {
		return "", kvbrowse.NewError(kvbrowse.ProtocolFailure,
			fmt.Errorf("WRONGTYPE operation against a key holding %s", it.typ))
	}
	return it.str, nil
}

func (m *MockStore) Set(ctx context.Context, key, value string) error {
	if err := m.gate(ctx); err != nil {
		return err
	}
	m.SeedString(key, value)
	return nil
}

func (m *MockStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := m.gate(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.items[k]; ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := m.gate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[oldKey]
	if !ok {
		return kvbrowse.NewError(kvbrowse.ProtocolFailure, fmt.Errorf("ERR no such key"))
	}
	delete(m.items, oldKey)
	m.items[newKey] = it
	return nil
}

func (m *MockStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := m.gate(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return -2 * time.Second, nil
	}
	return it.ttl, nil
}

func (m *MockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := m.gate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return kvbrowse.NewError(kvbrowse.ProtocolFailure, fmt.Errorf("ERR no such key"))
	}
	it.ttl = ttl
	m.items[key] = it
	return nil
}

func (m *MockStore) HScan(ctx context.Context, key string, cursor uint64, count int64) (map[string]string, uint64, error) {
	if err := m.gate(ctx); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := make([]string, 0, len(m.items[key].hash))
	for f := range m.items[key].hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	page, next := pageOf(fields, cursor, count)
	out := make(map[string]string, len(page))
	for _, f := range page {
		out[f] = m.items[key].hash[f]
	}
	return out, next, nil
}

func (m *MockStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key].list, nil
}

func (m *MockStore) SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	if err := m.gate(ctx); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page, next := pageOf(m.items[key].set, cursor, count)
	return page, next, nil
}

func (m *MockStore) ZScan(ctx context.Context, key string, cursor uint64, count int64) ([]kvbrowse.ScoredMember, uint64, error) {
	if err := m.gate(ctx); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page, next := pageOf(m.items[key].zset, cursor, count)
	return page, next, nil
}

// pageOf slices one cursor-paged window out of ss, using the same cursor
// encoding as Scan: 0 starts, next is start-index+1, 0 again when done.
func pageOf[T any](ss []T, cursor uint64, count int64) ([]T, uint64) {
	start := 0
	if cursor > 0 {
		start = int(cursor) - 1
	}
	if start >= len(ss) {
		return nil, 0
	}
	if count <= 0 {
		count = 10
	}
	end := start + int(count)
	if end >= len(ss) {
		return ss[start:], 0
	}
	return ss[start:end], uint64(end) + 1
}

func (m *MockStore) XRange(ctx context.Context, key string, count int64) ([]kvbrowse.StreamEntry, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.items[key].stream
	if count > 0 && int64(len(entries)) > count {
		entries = entries[:count]
	}
	return entries, nil
}

func (m *MockStore) Info(ctx context.Context, sections ...string) (string, error) {
	if err := m.gate(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("# Server\r\nredis_version:7.2.0-mock\r\n\r\n# Keyspace\r\ndb%d:keys=%d,expires=0,avg_ttl=0\r\n",
		m.db, len(m.items)), nil
}

func (m *MockStore) Do(ctx context.Context, args ...any) (any, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, kvbrowse.NewError(kvbrowse.ProtocolFailure, fmt.Errorf("ERR empty command"))
	}
	cmd, _ := args[0].(string)
	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG", nil
	case "DBSIZE":
		m.mu.Lock()
		defer m.mu.Unlock()
		return int64(len(m.items)), nil
	default:
		return nil, kvbrowse.NewError(kvbrowse.ProtocolFailure,
			fmt.Errorf("ERR unknown command '%v'", args[0]))
	}
}

func (m *MockStore) SelectDB(ctx context.Context, db int) error {
	if err := m.gate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = db
	return nil
}
