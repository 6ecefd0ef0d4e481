package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/SharedCode/kvbrowse"
)

var errBadPage = errors.New("unexpected page payload shape")

// drainScan runs a cursor-paged collection read to completion. page returns
// the next cursor; 0 terminates.
func drainScan(page func(cursor uint64) (uint64, error)) error {
	var cursor uint64
	for {
		next, err := page(cursor)
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// ReadValue resolves the key's type, performs the matching typed read plus a
// TTL fetch, and hands the tagged Value to onSuccess. Missing keys come back
// as Type "none".
func (c *Coordinator) ReadValue(key string, onSuccess func(kvbrowse.Value), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	count := c.cfg.ScanPageSize
	return c.Submit(func(ctx context.Context) (any, error) {
		typ, err := client.TypeOf(ctx, key)
		if err != nil {
			return nil, err
		}
		v := kvbrowse.Value{Type: typ, TTL: -1}
		switch typ {
		case kvbrowse.TypeNone:
			return v, nil
		case kvbrowse.TypeString:
			v.Str, err = client.Get(ctx, key)
		case kvbrowse.TypeHash:
			v.Hash = make(map[string]string)
			err = drainScan(func(cursor uint64) (uint64, error) {
				fields, next, herr := client.HScan(ctx, key, cursor, count)
				for f, fv := range fields {
					v.Hash[f] = fv
				}
				return next, herr
			})
		case kvbrowse.TypeList:
			v.List, err = client.LRange(ctx, key, 0, -1)
		case kvbrowse.TypeSet:
			err = drainScan(func(cursor uint64) (uint64, error) {
				members, next, serr := client.SScan(ctx, key, cursor, count)
				v.Set = append(v.Set, members...)
				return next, serr
			})
		case kvbrowse.TypeZSet:
			err = drainScan(func(cursor uint64) (uint64, error) {
				members, next, zerr := client.ZScan(ctx, key, cursor, count)
				v.ZSet = append(v.ZSet, members...)
				return next, zerr
			})
		case kvbrowse.TypeStream:
			v.Stream, err = client.XRange(ctx, key, 100)
		default:
			return nil, kvbrowse.NewError(kvbrowse.ProtocolFailure,
				errors.New("unsupported key type "+string(typ)))
		}
		if err != nil {
			return nil, err
		}
		if ttl, terr := client.TTL(ctx, key); terr == nil {
			v.TTL = ttl
		}
		return v, nil
	}, func(value any) {
		if onSuccess != nil {
			onSuccess(value.(kvbrowse.Value))
		}
	}, onFailure)
}

// ExactProbe resolves a single key by exact name. On a hit the tree is reset
// to just that key; on a miss it is reset empty. Either way onResult reports
// whether the key exists.
func (c *Coordinator) ExactProbe(key string, onResult func(found bool, typ kvbrowse.KeyType), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return client.TypeOf(ctx, key)
	}, func(value any) {
		typ := value.(kvbrowse.KeyType)
		c.tree.Reset()
		found := typ != kvbrowse.TypeNone
		if found {
			c.tree.Observe(key)
		}
		if onResult != nil {
			onResult(found, typ)
		}
	}, onFailure)
}

// SetString writes a string value and observes the key in the tree on
// success.
func (c *Coordinator) SetString(key, value string, onDone func(), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return nil, client.Set(ctx, key, value)
	}, func(any) {
		c.tree.Observe(key)
		if onDone != nil {
			onDone()
		}
	}, onFailure)
}

// DeleteKeys deletes keys remotely and removes them from the tree on
// success. onDone receives the number the server actually deleted.
func (c *Coordinator) DeleteKeys(keys []string, onDone func(deleted int64), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return client.Delete(ctx, keys...)
	}, func(value any) {
		for _, k := range keys {
			if _, err := c.tree.Remove(k); err != nil {
				c.resetOnCorruption(err)
				break
			}
		}
		if onDone != nil {
			onDone(value.(int64))
		}
	}, onFailure)
}

// RenameKey renames remotely, then applies the same move to the tree as one
// atomic step.
func (c *Coordinator) RenameKey(oldKey, newKey string, onDone func(), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return nil, client.Rename(ctx, oldKey, newKey)
	}, func(any) {
		if err := c.tree.Rename(oldKey, newKey); err != nil {
			c.resetOnCorruption(err)
		}
		if onDone != nil {
			onDone()
		}
	}, onFailure)
}

// SetTTL applies an expiry to a key.
func (c *Coordinator) SetTTL(key string, ttl time.Duration, onDone func(), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return nil, client.Expire(ctx, key, ttl)
	}, func(any) {
		if onDone != nil {
			onDone()
		}
	}, onFailure)
}

// ServerInfo fetches INFO and delivers it parsed into section -> field -> value.
func (c *Coordinator) ServerInfo(onSuccess func(map[string]map[string]string), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		raw, err := client.Info(ctx)
		if err != nil {
			return nil, err
		}
		return ParseInfo(raw), nil
	}, func(value any) {
		if onSuccess != nil {
			onSuccess(value.(map[string]map[string]string))
		}
	}, onFailure)
}

// Do executes an arbitrary console command.
func (c *Coordinator) Do(args []any, onSuccess func(reply any), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return client.Do(ctx, args...)
	}, func(value any) {
		if onSuccess != nil {
			onSuccess(value)
		}
	}, onFailure)
}

// SelectDB switches the logical database and fully discards the cache, per
// the reload lifecycle. Expansion state is kept.
func (c *Coordinator) SelectDB(db int, onDone func(), onFailure FailHandler) kvbrowse.UUID {
	client := c.client
	return c.Submit(func(ctx context.Context) (any, error) {
		return nil, client.SelectDB(ctx, db)
	}, func(any) {
		c.tree.Reset()
		if onDone != nil {
			onDone()
		}
	}, onFailure)
}

// Refresh discards the cache so the next scan session rebuilds it.
func (c *Coordinator) Refresh() {
	c.do(func() {
		c.tree.Reset()
	})
}

// resetOnCorruption handles CacheConsistency failures raised while applying
// a successful remote mutation to the tree. Loop goroutine only.
func (c *Coordinator) resetOnCorruption(err error) {
	if kvbrowse.CodeOf(err) == kvbrowse.CacheConsistency {
		c.tree.Reset()
	}
}

// ParseInfo splits a raw INFO reply into section -> field -> value, the
// shape the info panel consumes. Lines outside any section land under "".
func ParseInfo(raw string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	section := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if out[section] == nil {
			out[section] = make(map[string]string)
		}
		out[section][k] = v
	}
	return out
}
