package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/SharedCode/kvbrowse"
)

func TestMockScanPagesDeterministically(t *testing.T) {
	m := NewMockClient()
	for i := 0; i < 25; i++ {
		m.SeedString(fmt.Sprintf("k:%02d", i), "v")
	}
	ctx := context.Background()

	var all []string
	var cursor uint64
	pages := 0
	for {
		keys, next, err := m.Scan(ctx, cursor, "*", 10)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, keys...)
		pages++
		if next == 0 {
			break
		}
		cursor = next
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3 for 25 keys at count 10", pages)
	}
	if len(all) != 25 {
		t.Errorf("scanned %d keys, want 25", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i] <= all[i-1] {
			t.Fatalf("scan order not sorted: %v", all)
		}
	}
}

func TestMockScanPatternMatching(t *testing.T) {
	m := NewMockClient()
	m.SeedString("user:1", "v")
	m.SeedString("user:2", "v")
	m.SeedString("order:1", "v")
	ctx := context.Background()

	keys, next, err := m.Scan(ctx, 0, "user:*", 100)
	if err != nil || next != 0 {
		t.Fatalf("scan = (%v, %d, %v)", keys, next, err)
	}
	if len(keys) != 2 {
		t.Errorf("matched %v, want the two user keys", keys)
	}
}

func TestMockTypedReads(t *testing.T) {
	m := NewMockClient()
	m.SeedHash("h", map[string]string{"a": "1"})
	m.SeedZSet("z", kvbrowse.ScoredMember{Member: "m", Score: 2})
	ctx := context.Background()

	if typ, _ := m.TypeOf(ctx, "h"); typ != kvbrowse.TypeHash {
		t.Errorf("TypeOf(h) = %v", typ)
	}
	if typ, _ := m.TypeOf(ctx, "nope"); typ != kvbrowse.TypeNone {
		t.Errorf("TypeOf(missing) = %v", typ)
	}
	if h, next, _ := m.HScan(ctx, "h", 0, 10); h["a"] != "1" || next != 0 {
		t.Errorf("HScan = (%v, %d)", h, next)
	}
	if zs, next, _ := m.ZScan(ctx, "z", 0, 10); len(zs) != 1 || zs[0].Score != 2 || next != 0 {
		t.Errorf("ZScan = (%v, %d)", zs, next)
	}
	if _, err := m.Get(ctx, "h"); kvbrowse.CodeOf(err) != kvbrowse.ProtocolFailure {
		t.Errorf("GET on hash = %v, want wrong-type protocol failure", err)
	}
}

func TestMockCollectionScanPages(t *testing.T) {
	m := NewMockClient()
	members := make([]string, 25)
	for i := range members {
		members[i] = fmt.Sprintf("m%02d", i)
	}
	m.SeedSet("s", members...)
	ctx := context.Background()

	var got []string
	var cursor uint64
	pages := 0
	for {
		page, next, err := m.SScan(ctx, "s", cursor, 10)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, page...)
		pages++
		if next == 0 {
			break
		}
		cursor = next
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if len(got) != 25 {
		t.Errorf("drained %d members, want 25", len(got))
	}
}

func TestMockMutations(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	if err := m.Set(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Rename(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get(ctx, "b"); v != "1" {
		t.Errorf("renamed value = %q", v)
	}
	if err := m.Rename(ctx, "ghost", "x"); err == nil {
		t.Error("rename of missing key succeeded")
	}
	if n, _ := m.Delete(ctx, "b", "ghost"); n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if sz, _ := m.DBSize(ctx); sz != 0 {
		t.Errorf("DBSize = %d, want 0", sz)
	}
}

func TestMockTTL(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	m.SeedString("k", "v")

	if ttl, _ := m.TTL(ctx, "k"); ttl != -1 {
		t.Errorf("fresh key TTL = %v, want -1 (no expiry)", ttl)
	}
	if err := m.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ttl, _ := m.TTL(ctx, "k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
	if ttl, _ := m.TTL(ctx, "missing"); ttl != -2*time.Second {
		t.Errorf("missing key TTL = %v, want -2s", ttl)
	}
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMockClient()
	m.SeedString("k", "v")
	boom := errors.New("injected")
	m.FailNext = boom
	ctx := context.Background()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("first op error = %v, want injected", err)
	}
	// One-shot: the next operation succeeds.
	if v, err := m.Get(ctx, "k"); err != nil || v != "v" {
		t.Errorf("second op = (%q, %v), want clean read", v, err)
	}
}

func TestMockLatencyHonorsContext(t *testing.T) {
	m := NewMockClient()
	m.Latency = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.DBSize(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("latency gate ignored context cancellation")
	}
}

func TestMockDo(t *testing.T) {
	m := NewMockClient()
	m.SeedString("k", "v")
	ctx := context.Background()

	if reply, err := m.Do(ctx, "PING"); err != nil || reply != "PONG" {
		t.Errorf("PING = (%v, %v)", reply, err)
	}
	if reply, err := m.Do(ctx, "dbsize"); err != nil || reply != int64(1) {
		t.Errorf("DBSIZE = (%v, %v)", reply, err)
	}
	if _, err := m.Do(ctx, "FLUSHALL"); kvbrowse.CodeOf(err) != kvbrowse.ProtocolFailure {
		t.Errorf("unknown command err = %v, want protocol failure", err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
	// Server-sent replies are protocol failures.
	if kvbrowse.CodeOf(classify(goredis.Nil)) != kvbrowse.ProtocolFailure {
		t.Error("server reply error not classified as protocol failure")
	}
	if kvbrowse.CodeOf(classify(errors.New("dial tcp: connection refused"))) != kvbrowse.ConnectionFailure {
		t.Error("transport error not classified as connection failure")
	}
	// Context errors pass through untouched for the pool to normalize.
	if classify(context.DeadlineExceeded) != context.DeadlineExceeded {
		t.Error("context error rewrapped")
	}
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.Address != "localhost:6379" || o.DB != 0 || o.Password != "" {
		t.Errorf("DefaultOptions = %+v", o)
	}
}
