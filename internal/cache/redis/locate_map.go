package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantrail/fixmirror/internal/locate"
)

// locateMapTTL keeps mappings around long past the locate timeout so a late
// broker reply after a restart still resolves.
const locateMapTTL = 24 * time.Hour

// LocateMap implements locate.MapStore on Redis, giving QuoteReqID mappings
// restart survival.
//
// Key schema:
//
//	locate:map:{quoteReqID} - JSON-encoded mapping
type LocateMap struct {
	rdb *redis.Client
}

// NewLocateMap creates a LocateMap backed by the given Client.
func NewLocateMap(c *Client) *LocateMap {
	return &LocateMap{rdb: c.Underlying()}
}

func locateMapKey(id string) string { return "locate:map:" + id }

// Put stores the mapping under its QuoteReqID.
func (lm *LocateMap) Put(ctx context.Context, id string, m locate.Mapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal locate mapping %s: %w", id, err)
	}
	if err := lm.rdb.Set(ctx, locateMapKey(id), data, locateMapTTL).Err(); err != nil {
		return fmt.Errorf("redis: put locate mapping %s: %w", id, err)
	}
	return nil
}

// Get retrieves a mapping; found is false for an unknown QuoteReqID.
func (lm *LocateMap) Get(ctx context.Context, id string) (locate.Mapping, bool, error) {
	data, err := lm.rdb.Get(ctx, locateMapKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return locate.Mapping{}, false, nil
		}
		return locate.Mapping{}, false, fmt.Errorf("redis: get locate mapping %s: %w", id, err)
	}

	var m locate.Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return locate.Mapping{}, false, fmt.Errorf("redis: unmarshal locate mapping %s: %w", id, err)
	}
	return m, true, nil
}

// Compile-time interface check.
var _ locate.MapStore = (*LocateMap)(nil)
