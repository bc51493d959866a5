package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by one hash per device. The hash field is the
// period name and the value is the JSON-encoded Record. The key expires
// after the TTL unless refreshed by the next Put.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Redis store using rdb. Keys are "<prefix>:device:<id>".
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "reachability"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Redis) deviceKey(id string) string {
	return s.prefix + ":device:" + id
}

// Put writes r into its device hash and refreshes the key TTL.
func (s *Redis) Put(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results: marshal record: %w", err)
	}
	k := s.deviceKey(r.DeviceID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, k, string(r.Period), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("results: redis put %q: %w", k, err)
	}
	return nil
}

// List scans every device hash under the prefix.
func (s *Redis) List(ctx context.Context) ([]Record, error) {
	var out []Record
	iter := s.rdb.Scan(ctx, 0, s.prefix+":device:*", 100).Iterator()
	for iter.Next(ctx) {
		fields, err := s.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("results: redis hgetall %q: %w", iter.Val(), err)
		}
		for period, raw := range fields {
			var r Record
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				return nil, fmt.Errorf("results: decode %q/%s: %w", iter.Val(), period, err)
			}
			out = append(out, r)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("results: redis scan: %w", err)
	}
	Sort(out)
	return out, nil
}

// Ping checks the connection.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *Redis) Close() error {
	return s.rdb.Close()
}
