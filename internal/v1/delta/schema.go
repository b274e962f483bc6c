package delta

import (
	"fmt"
	"sync"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Entity is anything the synchronization engine can scan. ConnectionID names
// the owning client so per-viewer state can be keyed to the instance.
type Entity interface {
	ConnectionID() types.ConnectionID
	EntityType() string
}

// Getter reads one field's current value off an entity.
type Getter func(Entity) any

// FieldSpec declares one synchronized field at schema build time.
//
// Frequency > 0 emits the field on every tick divisible by it, regardless of
// whether the value moved. Frequency == 0 emits on value change. SyncAlways
// fields piggyback on any scan that already emits something. OneTime fields
// emit once per viewer and again only on a full resync.
type FieldSpec struct {
	Name       string
	BitIndex   int
	SyncAlways bool
	OneTime    bool
	Frequency  int64
	Get        Getter
}

// Schema is the immutable field layout for one entity type. Build it once at
// startup and register it; scans afterwards are lock-free on the schema.
type Schema struct {
	entityType string
	fields     []FieldSpec
	bitSpan    int
}

// NewSchema validates and builds a schema from explicit field declarations.
func NewSchema(entityType string, fields ...FieldSpec) (*Schema, error) {
	if entityType == "" {
		return nil, fmt.Errorf("schema requires an entity type")
	}
	s := &Schema{entityType: entityType}
	if err := s.addFields(fields); err != nil {
		return nil, fmt.Errorf("schema %q: %w", entityType, err)
	}
	return s, nil
}

// Extend builds a schema that inherits every base field at its original bit
// index, with the new fields' indices offset to follow the base span.
func Extend(base *Schema, entityType string, fields ...FieldSpec) (*Schema, error) {
	if base == nil {
		return nil, fmt.Errorf("schema %q: cannot extend nil base", entityType)
	}
	if entityType == "" {
		return nil, fmt.Errorf("schema requires an entity type")
	}
	s := &Schema{entityType: entityType}
	if err := s.addFields(base.fields); err != nil {
		return nil, fmt.Errorf("schema %q: inherited: %w", entityType, err)
	}
	shifted := make([]FieldSpec, len(fields))
	for i, f := range fields {
		f.BitIndex += base.bitSpan
		shifted[i] = f
	}
	if err := s.addFields(shifted); err != nil {
		return nil, fmt.Errorf("schema %q: %w", entityType, err)
	}
	return s, nil
}

func (s *Schema) addFields(fields []FieldSpec) error {
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("field at bit %d has no name", f.BitIndex)
		}
		if f.Get == nil {
			return fmt.Errorf("field %q has no getter", f.Name)
		}
		if f.BitIndex < 0 {
			return fmt.Errorf("field %q: negative bit index %d", f.Name, f.BitIndex)
		}
		if f.Frequency < 0 {
			return fmt.Errorf("field %q: negative frequency %d", f.Name, f.Frequency)
		}
		if f.SyncAlways && f.OneTime {
			return fmt.Errorf("field %q cannot be both sync-always and one-time", f.Name)
		}
		for _, existing := range s.fields {
			if existing.BitIndex == f.BitIndex {
				return fmt.Errorf("fields %q and %q share bit %d", existing.Name, f.Name, f.BitIndex)
			}
			if existing.Name == f.Name {
				return fmt.Errorf("duplicate field name %q", f.Name)
			}
		}
		s.fields = append(s.fields, f)
		if f.BitIndex+1 > s.bitSpan {
			s.bitSpan = f.BitIndex + 1
		}
	}
	return nil
}

// EntityType returns the type this schema describes.
func (s *Schema) EntityType() string { return s.entityType }

// BitSpan returns the number of bit positions the schema covers.
func (s *Schema) BitSpan() int { return s.bitSpan }

// FieldCount returns the number of declared fields.
func (s *Schema) FieldCount() int { return len(s.fields) }

var (
	schemasMu sync.RWMutex
	schemas   = make(map[string]*Schema)
)

// RegisterSchema publishes a schema for its entity type. Each type registers
// exactly once, at startup.
func RegisterSchema(s *Schema) error {
	if s == nil {
		return fmt.Errorf("cannot register nil schema")
	}
	schemasMu.Lock()
	defer schemasMu.Unlock()
	if _, exists := schemas[s.entityType]; exists {
		return fmt.Errorf("schema %q already registered", s.entityType)
	}
	schemas[s.entityType] = s
	return nil
}

// SchemaFor returns the registered schema for an entity type.
func SchemaFor(entityType string) (*Schema, bool) {
	schemasMu.RLock()
	defer schemasMu.RUnlock()
	s, ok := schemas[entityType]
	return s, ok
}
