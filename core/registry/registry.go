/*Package registry provides a persistent key/value registry of JSON objects

The registry is backed either by a SQL table or, for tests and database-less
deployments, by process memory. Accessors group keys under a common prefix,
which can be listed and cleared as a whole.
*/
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-memdb"

	"github.com/relabs-tech/dummyapi/core/csql"
)

type entry struct {
	key       string
	value     json.RawMessage
	timestamp time.Time
}

// backend is the storage behind a registry. All keys are fully qualified.
type backend interface {
	read(key string) (*entry, error)
	write(e entry) error
	delete(key string) error
	list(prefix string) ([]entry, error)
	deletePrefix(prefix string) error
}

// Registry provides a persistent registry of objects
type Registry struct {
	b backend
}

// New creates a new registry for the specified database
func New(db *csql.DB) Registry {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_registry_") + `
(key varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)

	if err != nil {
		panic(err)
	}
	return Registry{b: &sqlBackend{db: db}}
}

// NewInMemory creates a new registry which lives in process memory only
func NewInMemory() Registry {
	return Registry{b: newMemoryBackend()}
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) key(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timpestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(key string, value interface{}) (time.Time, error) {
	key = r.key(key)
	e, err := r.Registry.b.read(key)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	if e == nil {
		return time.Time{}, nil
	}
	return e.timestamp, json.Unmarshal(e.value, value)
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Registry.b.write(entry{key: r.key(key), value: body, timestamp: time.Now().UTC()})
}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(key string) error {
	return r.Registry.b.delete(r.key(key))
}

// List returns all values of the accessor's prefix, keyed by their
// unprefixed key.
func (r Accessor) List() (map[string]json.RawMessage, error) {
	prefix := r.key("")
	entries, err := r.Registry.b.list(prefix)
	if err != nil {
		return nil, err
	}
	result := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		result[strings.TrimPrefix(e.key, prefix)] = e.value
	}
	return result, nil
}

// Keys returns the sorted unprefixed keys of the accessor's prefix
func (r Accessor) Keys() ([]string, error) {
	values, err := r.List()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear deletes all values of the accessor's prefix. An accessor without
// prefix refuses to clear the entire registry.
func (r Accessor) Clear() error {
	if len(r.Prefix) == 0 {
		return fmt.Errorf("refuse to clear registry without prefix")
	}
	return r.Registry.b.deletePrefix(r.key(""))
}

type sqlBackend struct {
	db *csql.DB
}

func (s *sqlBackend) read(key string) (*entry, error) {
	e := entry{key: key}
	err := s.db.QueryRow(
		`SELECT value, timestamp FROM `+s.db.Table("_registry_")+` WHERE key=$1;`,
		key).Scan(&e.value, &e.timestamp)
	if err == csql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *sqlBackend) write(e entry) error {
	res, err := s.db.Exec(
		`INSERT INTO `+s.db.Table("_registry_")+`(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		e.key, string(e.value), e.timestamp)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", e.key)
	}
	return nil
}

func (s *sqlBackend) delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM `+s.db.Table("_registry_")+` WHERE key=$1;`, key)
	return err
}

func (s *sqlBackend) list(prefix string) ([]entry, error) {
	rows, err := s.db.Query(
		`SELECT key, value, timestamp FROM `+s.db.Table("_registry_")+
			` WHERE left(key, length($1)) = $1 ORDER BY key;`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []entry
	for rows.Next() {
		var e entry
		if err = rows.Scan(&e.key, &e.value, &e.timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqlBackend) deletePrefix(prefix string) error {
	_, err := s.db.Exec(`DELETE FROM `+s.db.Table("_registry_")+` WHERE left(key, length($1)) = $1;`, prefix)
	return err
}

// entryTable is the memdb table of the memory backend. Its id index is the key,
// so prefix lookups come back in key order.
const entryTable = "entry"

type memoryRow struct {
	Key   string
	entry entry
}

type memoryBackend struct {
	db *memdb.MemDB
}

func newMemoryBackend() *memoryBackend {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			entryTable: {
				Name: entryTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &memoryBackend{db: db}
}

func (m *memoryBackend) read(key string) (*entry, error) {
	raw, err := m.db.Txn(false).First(entryTable, "id", key)
	if err != nil || raw == nil {
		return nil, err
	}
	e := raw.(*memoryRow).entry
	return &e, nil
}

func (m *memoryBackend) write(e entry) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(entryTable, &memoryRow{Key: e.key, entry: e}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *memoryBackend) deleteAll(index, arg string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(entryTable, index, arg); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (m *memoryBackend) delete(key string) error {
	return m.deleteAll("id", key)
}

func (m *memoryBackend) list(prefix string) ([]entry, error) {
	it, err := m.db.Txn(false).Get(entryTable, "id_prefix", prefix)
	if err != nil {
		return nil, err
	}
	var entries []entry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		entries = append(entries, raw.(*memoryRow).entry)
	}
	return entries, nil
}

func (m *memoryBackend) deletePrefix(prefix string) error {
	return m.deleteAll("id_prefix", prefix)
}
