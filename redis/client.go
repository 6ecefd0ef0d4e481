package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SharedCode/kvbrowse"
)

type client struct {
	conn *Connection
}

// NewClient wraps an open Connection as the engine's StoreClient. Safe for
// use from any goroutine; go-redis pools connections internally.
func NewClient(conn *Connection) kvbrowse.StoreClient {
	return &client{conn: conn}
}

// classify maps a go-redis error into the engine taxonomy: server-sent
// replies (WRONGTYPE, ERR ...) are protocol failures, context errors pass
// through for the pool to normalize, everything else is the connection.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return kvbrowse.NewError(kvbrowse.ProtocolFailure, err)
	}
	return kvbrowse.NewError(kvbrowse.ConnectionFailure, err)
}

func (c *client) Ping(ctx context.Context) error {
	return classify(c.conn.handle().Ping(ctx).Err())
}

func (c *client) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	keys, next, err := c.conn.handle().Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, classify(err)
	}
	return keys, next, nil
}

func (c *client) DBSize(ctx context.Context) (int64, error) {
	n, err := c.conn.handle().DBSize(ctx).Result()
	return n, classify(err)
}

func (c *client) TypeOf(ctx context.Context, key string) (kvbrowse.KeyType, error) {
	t, err := c.conn.handle().Type(ctx, key).Result()
	if err != nil {
		return kvbrowse.TypeNone, classify(err)
	}
	return kvbrowse.KeyType(t), nil
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.conn.handle().Get(ctx, key).Result()
	if err == redis.Nil {
		// Key vanished between TYPE and GET; surface empty, not an error.
		return "", nil
	}
	return s, classify(err)
}

func (c *client) Set(ctx context.Context, key, value string) error {
	return classify(c.conn.handle().Set(ctx, key, value, 0).Err())
}

func (c *client) Delete(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.conn.handle().Del(ctx, keys...).Result()
	return n, classify(err)
}

func (c *client) Rename(ctx context.Context, oldKey, newKey string) error {
	return classify(c.conn.handle().Rename(ctx, oldKey, newKey).Err())
}

func (c *client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.conn.handle().TTL(ctx, key).Result()
	return d, classify(err)
}

func (c *client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return classify(c.conn.handle().Expire(ctx, key, ttl).Err())
}

func (c *client) HScan(ctx context.Context, key string, cursor uint64, count int64) (map[string]string, uint64, error) {
	pairs, next, err := c.conn.handle().HScan(ctx, key, cursor, "*", count).Result()
	if err != nil {
		return nil, 0, classify(err)
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[pairs[i]] = pairs[i+1]
	}
	return fields, next, nil
}

func (c *client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ss, err := c.conn.handle().LRange(ctx, key, start, stop).Result()
	return ss, classify(err)
}

func (c *client) SScan(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	members, next, err := c.conn.handle().SScan(ctx, key, cursor, "*", count).Result()
	if err != nil {
		return nil, 0, classify(err)
	}
	return members, next, nil
}

func (c *client) ZScan(ctx context.Context, key string, cursor uint64, count int64) ([]kvbrowse.ScoredMember, uint64, error) {
	// ZSCAN replies alternate member, score as flat strings.
	pairs, next, err := c.conn.handle().ZScan(ctx, key, cursor, "*", count).Result()
	if err != nil {
		return nil, 0, classify(err)
	}
	out := make([]kvbrowse.ScoredMember, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		score, perr := strconv.ParseFloat(pairs[i+1], 64)
		if perr != nil {
			return nil, 0, kvbrowse.NewError(kvbrowse.ProtocolFailure, perr)
		}
		out = append(out, kvbrowse.ScoredMember{Member: pairs[i], Score: score})
	}
	return out, next, nil
}

func (c *client) XRange(ctx context.Context, key string, count int64) ([]kvbrowse.StreamEntry, error) {
	msgs, err := c.conn.handle().XRangeN(ctx, key, "-", "+", count).Result()
	if err != nil {
		return nil, classify(err)
	}
	out := make([]kvbrowse.StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			s, _ := v.(string)
			fields[k] = s
		}
		out = append(out, kvbrowse.StreamEntry{ID: m.ID, Fields: fields})
	}
	return out, nil
}

func (c *client) Info(ctx context.Context, sections ...string) (string, error) {
	s, err := c.conn.handle().Info(ctx, sections...).Result()
	return s, classify(err)
}

func (c *client) Do(ctx context.Context, args ...any) (any, error) {
	v, err := c.conn.handle().Do(ctx, args...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return v, classify(err)
}

func (c *client) SelectDB(ctx context.Context, db int) error {
	return c.conn.selectDB(db)
}
