package store

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// dialect holds the per-driver SQL differences. Everything else is shared.
type dialect struct {
	name string
	// like is the case-insensitive pattern operator.
	like   string
	schema []string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// tagsValue converts tags into a bindable value.
	tagsValue func(tags []string) (driver.Valuer, error)
	// tagsDest returns a scan destination that fills tags.
	tagsDest func(tags *[]string) sql.Scanner
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres:
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driverName)
}

var sqliteDialect = dialect{
	name: DriverSQLite,
	like: "LIKE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			lat REAL,
			lng REAL,
			geohash5 TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS properties_name_city_state_idx ON properties (name, city, state)`,
	},
	placeholder: func(int) string { return "?" },
	tagsValue: func(tags []string) (driver.Valuer, error) {
		if tags == nil {
			tags = []string{}
		}
		b, err := json.Marshal(tags)
		if err != nil {
			return nil, err
		}
		return jsonText(b), nil
	},
	tagsDest: func(tags *[]string) sql.Scanner { return &jsonTags{dest: tags} },
}

var postgresDialect = dialect{
	name: DriverPostgres,
	like: "ILIKE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			geohash5 VARCHAR(5),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS properties_name_city_state_idx ON properties (name, city, state)`,
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	tagsValue: func(tags []string) (driver.Valuer, error) {
		if tags == nil {
			tags = []string{}
		}
		return pq.StringArray(tags), nil
	},
	tagsDest: func(tags *[]string) sql.Scanner { return (*pq.StringArray)(tags) },
}

type jsonText []byte

func (j jsonText) Value() (driver.Value, error) { return string(j), nil }

// jsonTags scans a JSON array column into a string slice. NULL and empty
// text scan as an empty slice.
type jsonTags struct {
	dest *[]string
}

func (j *jsonTags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j.dest = []string{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan tags: unsupported type %T", src)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		*j.dest = []string{}
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return fmt.Errorf("scan tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	*j.dest = tags
	return nil
}

// escapeLike escapes LIKE metacharacters so text matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
