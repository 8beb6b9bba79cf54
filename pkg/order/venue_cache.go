package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/solbot-labs/engine/pkg/core"
)

// VenueInfoCache is a TTL-backed cache of venue AssetInfo (step/tick sizes,
// min quantities), read by OrderSizing on every order instead of hitting
// the exchange's exchangeInfo endpoint per order (spec §4.10's "venue info
// is cached with TTL"). Grounded on pkg/storage/buntdb.go's buntdb idiom.
type VenueInfoCache struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewVenueInfoCache opens an in-memory buntdb cache with the given TTL.
func NewVenueInfoCache(ttl time.Duration) (*VenueInfoCache, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("venue info cache: open: %w", err)
	}
	return &VenueInfoCache{db: db, ttl: ttl}, nil
}

// Get returns the cached AssetInfo for pair, or false if absent/expired.
// buntdb expires keys set with an options.Expires TTL lazily, so a miss
// here is indistinguishable from "never cached" — both fall through to a
// live fetch.
func (c *VenueInfoCache) Get(pair string) (core.AssetInfo, bool) {
	var info core.AssetInfo
	var found bool
	_ = c.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(pair)
		if err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(val), &info); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return info, found
}

// Set stores info for pair with the cache's configured TTL.
func (c *VenueInfoCache) Set(pair string, info core.AssetInfo) error {
	content, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("venue info cache: marshal %s: %w", pair, err)
	}
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(pair, string(content), &buntdb.SetOptions{Expires: true, TTL: c.ttl})
		return err
	})
}

// Close releases the underlying database.
func (c *VenueInfoCache) Close() error { return c.db.Close() }
