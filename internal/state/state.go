package state

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hearthlab/hearth-core/internal/bus"
)

// Sentinel errors for entity ID validation.
var (
	// ErrInvalidEntityID indicates the entity ID does not match the
	// "<domain>.<object_id>" format.
	ErrInvalidEntityID = errors.New("state: invalid entity ID")
)

// entityIDPattern enforces "<domain>.<object_id>" with lowercase
// alphanumerics and underscores on both sides of a single dot.
const entityIDPattern = `^[a-z0-9_]+\.[a-z0-9_]+$`

var entityIDRegex = regexp.MustCompile(entityIDPattern)

// NormalizeEntityID lowercases an entity ID. Entity IDs are
// case-insensitive; the store keys everything by the normalised form.
func NormalizeEntityID(entityID string) string {
	return strings.ToLower(entityID)
}

// ValidateEntityID checks that an entity ID (after normalisation) matches
// the "<domain>.<object_id>" format.
//
// Returns:
//   - error: ErrInvalidEntityID (wrapped with the offending ID) on failure
func ValidateEntityID(entityID string) error {
	if !entityIDRegex.MatchString(NormalizeEntityID(entityID)) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return nil
}

// SplitEntityID returns the domain and object_id halves of a valid entity
// ID. Behaviour is undefined for IDs that fail ValidateEntityID.
func SplitEntityID(entityID string) (domain, objectID string) {
	parts := strings.SplitN(NormalizeEntityID(entityID), ".", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// State is an immutable snapshot of one entity at a point in time.
//
// Value holds the primary state as a string ("on", "23.4"); everything
// else an integration reports lives in Attributes. LastChanged moves only
// when Value differs from the previous snapshot; LastUpdated moves on
// every write, including attribute-only updates.
type State struct {
	EntityID    string         `json:"entity_id"`
	Value       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     bus.Context    `json:"context"`
}

// Domain returns the domain half of the entity ID ("light" for
// "light.kitchen").
func (s *State) Domain() string {
	d, _ := SplitEntityID(s.EntityID)
	return d
}

// DeepCopy returns an independent copy of the state. Attribute maps are
// recursively copied so callers can never mutate a stored snapshot.
func (s *State) DeepCopy() *State {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Attributes = deepCopyMap(s.Attributes)
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}
