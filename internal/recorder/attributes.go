package recorder

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// attributesCache deduplicates attribute payloads. Many state rows share
// identical attributes (a light reports the same supported feature map on
// every toggle), so rows reference a content-addressed state_attributes
// row instead of repeating the JSON.
//
// The cache maps payload hash to row id; ids are stable once assigned.
type attributesCache struct {
	mu  sync.Mutex
	ids map[string]int64
}

func newAttributesCache() *attributesCache {
	return &attributesCache{ids: make(map[string]int64)}
}

// hashAttributes produces the content address for a payload. Map keys are
// serialised in sorted order by encoding/json, so equal payloads hash
// equally regardless of construction order.
//
// Returns:
//   - string: Hex hash used as the dedup key
//   - string: The serialised payload stored alongside it
//   - error: If the attributes are not JSON-serialisable
func hashAttributes(attrs map[string]any) (string, string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return "", "", fmt.Errorf("serialising attributes: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), string(payload), nil
}

// getOrCreate resolves the row id for a payload inside the flush
// transaction, inserting a new state_attributes row on first sight.
//
// Ids resolved within the transaction go into pending, not the shared
// cache: a rolled-back insert would otherwise leave a dangling id cached
// and poison every later batch carrying the same payload. The caller
// promotes pending ids with promote only after the transaction commits.
func (c *attributesCache) getOrCreate(ctx context.Context, tx *sql.Tx, attrs map[string]any, pending map[string]int64) (int64, error) {
	hash, payload, err := hashAttributes(attrs)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	id, ok := c.ids[hash]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	if id, ok := pending[hash]; ok {
		return id, nil
	}

	err = tx.QueryRowContext(ctx,
		"SELECT attributes_id FROM state_attributes WHERE hash = ?", hash,
	).Scan(&id)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			"INSERT INTO state_attributes (hash, shared_attrs) VALUES (?, ?)",
			hash, payload,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting attributes: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading attributes id: %w", err)
		}
	default:
		return 0, fmt.Errorf("looking up attributes: %w", err)
	}

	pending[hash] = id
	return id, nil
}

// promote moves committed ids into the shared cache.
func (c *attributesCache) promote(pending map[string]int64) {
	if len(pending) == 0 {
		return
	}
	c.mu.Lock()
	for hash, id := range pending {
		c.ids[hash] = id
	}
	c.mu.Unlock()
}
