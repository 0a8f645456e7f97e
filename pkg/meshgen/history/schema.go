package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CurrentSchemaVersion is written to new databases. Version 1 stores runs
// as JSON under r: with a t: start-time index.
const CurrentSchemaVersion = 1

const schemaKey = prefixMeta + "__schema__"

// ErrSchemaTooNew is returned when the database was written by a newer release.
var ErrSchemaTooNew = errors.New("history schema is newer than this binary supports")

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the stored schema, or nil if none is set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})
	return schema
}

func (s *Store) ensureSchema() error {
	schema := s.GetSchema()
	if schema != nil {
		if schema.Version > CurrentSchemaVersion {
			return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, schema.Version, CurrentSchemaVersion)
		}
		if schema.Version == CurrentSchemaVersion {
			return nil
		}
	}

	data, err := json.Marshal(Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}
