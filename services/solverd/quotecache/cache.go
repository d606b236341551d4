package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Quote is the cached response for a quote request.
type Quote struct {
	InputAsset  string   `json:"inputAsset"`
	OutputAsset string   `json:"outputAsset"`
	InputAmount string   `json:"inputAmount"`
	Output      string   `json:"output"`
	MinOutput   string   `json:"minOutput"`
	Fees        string   `json:"fees"`
	PriceImpact float64  `json:"priceImpact"`
	PoolIDs     []string `json:"poolIds"`
	QuotedAt    time.Time `json:"quotedAt"`
}

// Cache keeps recent quotes in Redis with a short TTL. A nil Cache is valid
// and always misses, so callers never branch on configuration.
type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached quote or (nil, nil) on a miss.
func (c *Cache) Get(ctx context.Context, inputAsset, outputAsset, amount string) (*Quote, error) {
	if c == nil || c.rdb == nil {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, key(inputAsset, outputAsset, amount)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("quote cache get: %w", err)
	}
	var quote Quote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return nil, fmt.Errorf("quote cache decode: %w", err)
	}
	return &quote, nil
}

// Put stores the quote under the request key.
func (c *Cache) Put(ctx context.Context, quote *Quote) error {
	if c == nil || c.rdb == nil || quote == nil {
		return nil
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("quote cache encode: %w", err)
	}
	k := key(quote.InputAsset, quote.OutputAsset, quote.InputAmount)
	if err := c.rdb.Set(ctx, k, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("quote cache set: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func key(inputAsset, outputAsset, amount string) string {
	return fmt.Sprintf("tidepool:quote:%s:%s:%s", inputAsset, outputAsset, amount)
}
