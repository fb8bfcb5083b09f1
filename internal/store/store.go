package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kjstillabower/property-weather-service/internal/models"
	"github.com/kjstillabower/property-weather-service/internal/observability"
	"github.com/kjstillabower/property-weather-service/internal/validation"
)

var (
	// ErrUnsupportedDriver is returned for a driver other than sqlite or postgres.
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrQuery wraps every failed read so handlers can map it to a 500.
	ErrQuery = errors.New("property store query failed")
)

// PropertyStore is the read side the listing service depends on, plus the
// bootstrap and insert operations used by tooling and tests.
type PropertyStore interface {
	// Search returns properties whose name, city or state contains text,
	// case-insensitively, ordered by id. Empty text returns every property.
	Search(ctx context.Context, text string) ([]models.Property, error)
	// Coordinates returns the distinct valid coordinates of all properties.
	Coordinates(ctx context.Context) ([]models.Coordinate, error)
	Insert(ctx context.Context, p *models.Property) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and tunes the backing database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// SQLStore implements PropertyStore over database/sql for sqlite and postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

const propertyColumns = `id, name, city, state, country, lat, lng, geohash5, is_active, tags, created_at, updated_at`

// Open connects to the configured database, verifies the connection and
// creates the properties table when missing.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*SQLStore, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}

	switch {
	case d.name == DriverSQLite && strings.Contains(cfg.DSN, ":memory:"):
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(max(1, cfg.MaxOpenConns/5))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	if d.name == DriverSQLite && !strings.Contains(cfg.DSN, ":memory:") {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil && logger != nil {
			logger.Warn("could not enable sqlite WAL mode", zap.Error(err))
		}
	}

	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("property store ready", zap.String("driver", d.name))
	}
	return s, nil
}

// Migrate creates the properties table and its search index if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) Search(ctx context.Context, text string) ([]models.Property, error) {
	start := time.Now()
	query, args := s.searchQuery(text)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		observeQuery("search", start, err)
		return nil, fmt.Errorf("%w: search: %v", ErrQuery, err)
	}
	defer rows.Close()

	out := make([]models.Property, 0)
	for rows.Next() {
		p, err := s.scanProperty(rows)
		if err != nil {
			observeQuery("search", start, err)
			return nil, fmt.Errorf("%w: scan property: %v", ErrQuery, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		observeQuery("search", start, err)
		return nil, fmt.Errorf("%w: search: %v", ErrQuery, err)
	}
	observeQuery("search", start, nil)
	return out, nil
}

func (s *SQLStore) searchQuery(text string) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(propertyColumns)
	b.WriteString(" FROM properties")

	var args []any
	if text != "" {
		pattern := "%" + escapeLike(text) + "%"
		conds := make([]string, 0, 3)
		for i, col := range [...]string{"name", "city", "state"} {
			conds = append(conds, fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, s.dialect.like, s.dialect.placeholder(i+1)))
			args = append(args, pattern)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " OR "))
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}

func (s *SQLStore) Coordinates(ctx context.Context) ([]models.Coordinate, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT lat, lng FROM properties WHERE lat IS NOT NULL AND lng IS NOT NULL ORDER BY lat, lng`)
	if err != nil {
		observeQuery("coordinates", start, err)
		return nil, fmt.Errorf("%w: coordinates: %v", ErrQuery, err)
	}
	defer rows.Close()

	var out []models.Coordinate
	for rows.Next() {
		var lat, lng float64
		if err := rows.Scan(&lat, &lng); err != nil {
			observeQuery("coordinates", start, err)
			return nil, fmt.Errorf("%w: scan coordinate: %v", ErrQuery, err)
		}
		if validation.ValidateCoordinate(&lat, &lng) != nil {
			continue
		}
		out = append(out, models.Coordinate{Lat: lat, Lng: lng})
	}
	if err := rows.Err(); err != nil {
		observeQuery("coordinates", start, err)
		return nil, fmt.Errorf("%w: coordinates: %v", ErrQuery, err)
	}
	observeQuery("coordinates", start, nil)
	return out, nil
}

// Insert stores p and sets its ID. Zero timestamps are set to now.
func (s *SQLStore) Insert(ctx context.Context, p *models.Property) error {
	start := time.Now()
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	tags, err := s.dialect.tagsValue(p.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	ph := make([]string, 11)
	for i := range ph {
		ph[i] = s.dialect.placeholder(i + 1)
	}
	query := fmt.Sprintf(`INSERT INTO properties
		(name, city, state, country, lat, lng, geohash5, is_active, tags, created_at, updated_at)
		VALUES (%s) RETURNING id`, strings.Join(ph, ", "))

	err = s.db.QueryRowContext(ctx, query,
		p.Name, p.City, p.State, p.Country,
		nullFloat(p.Lat), nullFloat(p.Lng), nullString(p.Geohash5),
		p.IsActive, tags,
		s.timeValue(p.CreatedAt), s.timeValue(p.UpdatedAt),
	).Scan(&p.ID)
	observeQuery("insert", start, err)
	if err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.db.PingContext(ctx)
	observeQuery("ping", start, err)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanProperty(row rowScanner) (models.Property, error) {
	var (
		p                  models.Property
		lat, lng           sql.NullFloat64
		geohash            sql.NullString
		createdAt, updated any
	)
	err := row.Scan(&p.ID, &p.Name, &p.City, &p.State, &p.Country,
		&lat, &lng, &geohash, &p.IsActive, s.dialect.tagsDest(&p.Tags),
		&createdAt, &updated)
	if err != nil {
		return models.Property{}, err
	}
	if lat.Valid {
		p.Lat = &lat.Float64
	}
	if lng.Valid {
		p.Lng = &lng.Float64
	}
	if geohash.Valid {
		p.Geohash5 = &geohash.String
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Property{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return models.Property{}, err
	}
	return p, nil
}

// timeValue renders t for the dialect. SQLite stores RFC 3339 text.
func (s *SQLStore) timeValue(t time.Time) any {
	if s.dialect.name == DriverSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(src any) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case nil:
		return time.Time{}, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return time.Time{}, fmt.Errorf("scan time: unsupported type %T", src)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("scan time: unrecognized format %q", s)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func observeQuery(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.StoreQueryDurationSeconds.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
