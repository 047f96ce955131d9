package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding cached catalog items and details.
//
// Writes go through a single-connection handle so they are serialized.
// File-backed stores also open a read-only pool so reads do not queue
// behind writes (WAL mode).
type Store struct {
	db  *sql.DB // writer
	rdb *sql.DB // reader; same as db for in-memory stores
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pokedex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, rdb: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if dsn != ":memory:" {
		rdb, err := sql.Open("sqlite", "file:"+dsn+"?mode=ro&_pragma=busy_timeout(5000)")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("opening read handle: %w", err)
		}
		rdb.SetMaxOpenConns(4)
		s.rdb = rdb
	}

	return s, nil
}

// Close closes the underlying database handles.
func (s *Store) Close() error {
	var rerr error
	if s.rdb != s.db {
		rerr = s.rdb.Close()
	}
	return errors.Join(s.db.Close(), rerr)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Items ---

const itemColumns = `id, name, number, types, image, height, weight, base_experience, created_at`

// CreateItem inserts rec unless an item with the same id already exists.
// It reports whether a row was written; a duplicate is not an error.
func (s *Store) CreateItem(ctx context.Context, rec ItemRecord) (bool, error) {
	if rec.ID <= 0 {
		return false, fmt.Errorf("invalid item id %d", rec.ID)
	}
	types, err := encodeTypes(rec.Types)
	if err != nil {
		return false, err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Name, rec.Number, types, rec.Image, rec.Height, rec.Weight, rec.BaseExperience,
		formatTime(createdAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting item %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetItem returns the cached item with the given id.
func (s *Store) GetItem(ctx context.Context, id int) (ItemRecord, error) {
	row := s.rdb.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	rec, err := scanItem(row)
	if err == sql.ErrNoRows {
		return ItemRecord{}, ErrNotFound
	}
	return rec, err
}

// ListItems returns every cached item.
func (s *Store) ListItems(ctx context.Context, order Order) ([]ItemRecord, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM items ORDER BY `+itemOrder(order))
}

// ListItemsPage returns at most limit items starting at offset.
func (s *Store) ListItemsPage(ctx context.Context, offset, limit int, order Order) ([]ItemRecord, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY `+itemOrder(order)+` LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// DeleteItem removes one cached item.
func (s *Store) DeleteItem(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllItems removes every cached item and returns how many were removed.
func (s *Store) DeleteAllItems(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]ItemRecord, error) {
	rows, err := s.rdb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ItemRecord
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func itemOrder(order Order) string {
	if order == OrderByID {
		return "id ASC"
	}
	return "seq ASC"
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (ItemRecord, error) {
	var rec ItemRecord
	var types, createdAt string
	if err := sc.Scan(&rec.ID, &rec.Name, &rec.Number, &types, &rec.Image, &rec.Height, &rec.Weight, &rec.BaseExperience, &createdAt); err != nil {
		return ItemRecord{}, err
	}
	if len(rec.Image) == 0 {
		rec.Image = nil
	}
	var err error
	if rec.Types, err = decodeTypes(types); err != nil {
		return ItemRecord{}, fmt.Errorf("decoding types for item %d: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return ItemRecord{}, fmt.Errorf("parsing created_at for item %d: %w", rec.ID, err)
	}
	return rec, nil
}

// --- Details ---

const detailColumns = `item_id, name, description, genus, types, variety_count, height, weight, base_experience, created_at, updated_at`

// SaveDetail creates the detail for rec.ItemID or overwrites the existing
// one, refreshing its updated_at timestamp.
func (s *Store) SaveDetail(ctx context.Context, rec DetailRecord) error {
	if rec.ItemID <= 0 {
		return fmt.Errorf("invalid item id %d", rec.ItemID)
	}
	types, err := encodeTypes(rec.Types)
	if err != nil {
		return err
	}
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO item_details (`+detailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			genus = excluded.genus,
			types = excluded.types,
			variety_count = excluded.variety_count,
			height = excluded.height,
			weight = excluded.weight,
			base_experience = excluded.base_experience,
			updated_at = excluded.updated_at`,
		rec.ItemID, rec.Name, nullString(rec.Description), rec.Genus, types, rec.VarietyCount,
		rec.Height, rec.Weight, rec.BaseExperience, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving detail %d: %w", rec.ItemID, err)
	}
	return nil
}

// GetDetail returns the cached detail for an item id.
func (s *Store) GetDetail(ctx context.Context, itemID int) (DetailRecord, error) {
	row := s.rdb.QueryRowContext(ctx, `SELECT `+detailColumns+` FROM item_details WHERE item_id = ?`, itemID)
	rec, err := scanDetail(row)
	if err == sql.ErrNoRows {
		return DetailRecord{}, ErrNotFound
	}
	return rec, err
}

// ListDetails returns every cached detail in insertion order.
func (s *Store) ListDetails(ctx context.Context) ([]DetailRecord, error) {
	rows, err := s.rdb.QueryContext(ctx, `SELECT `+detailColumns+` FROM item_details ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DetailRecord
	for rows.Next() {
		rec, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// UpdateDetail loads the detail for itemID, applies mutate and writes the
// result back in one transaction. updated_at is always refreshed, so a
// no-op mutator acts as a touch.
func (s *Store) UpdateDetail(ctx context.Context, itemID int, mutate func(*DetailRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanDetail(tx.QueryRowContext(ctx, `SELECT `+detailColumns+` FROM item_details WHERE item_id = ?`, itemID))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if mutate != nil {
		if err := mutate(&rec); err != nil {
			return err
		}
	}

	types, err := encodeTypes(rec.Types)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE item_details SET name = ?, description = ?, genus = ?, types = ?, variety_count = ?,
			height = ?, weight = ?, base_experience = ?, updated_at = ?
		WHERE item_id = ?`,
		rec.Name, nullString(rec.Description), rec.Genus, types, rec.VarietyCount,
		rec.Height, rec.Weight, rec.BaseExperience, formatTime(s.now()), itemID,
	)
	if err != nil {
		return fmt.Errorf("updating detail %d: %w", itemID, err)
	}
	return tx.Commit()
}

// DeleteDetail removes the cached detail for an item id.
func (s *Store) DeleteDetail(ctx context.Context, itemID int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM item_details WHERE item_id = ?`, itemID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllDetails removes every cached detail and returns how many were removed.
func (s *Store) DeleteAllDetails(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM item_details`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanDetail(sc scanner) (DetailRecord, error) {
	var rec DetailRecord
	var description sql.NullString
	var types, createdAt, updatedAt string
	if err := sc.Scan(&rec.ItemID, &rec.Name, &description, &rec.Genus, &types, &rec.VarietyCount,
		&rec.Height, &rec.Weight, &rec.BaseExperience, &createdAt, &updatedAt); err != nil {
		return DetailRecord{}, err
	}
	rec.Description = description.String
	var err error
	if rec.Types, err = decodeTypes(types); err != nil {
		return DetailRecord{}, fmt.Errorf("decoding types for detail %d: %w", rec.ItemID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return DetailRecord{}, fmt.Errorf("parsing created_at for detail %d: %w", rec.ItemID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return DetailRecord{}, fmt.Errorf("parsing updated_at for detail %d: %w", rec.ItemID, err)
	}
	return rec, nil
}

// --- Stats ---

// Stats returns counts over the cached tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last sql.NullString
	err := s.rdb.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM items WHERE image IS NOT NULL AND length(image) > 0),
			(SELECT COUNT(*) FROM item_details),
			(SELECT MAX(updated_at) FROM item_details)`,
	).Scan(&st.Items, &st.ItemsWithArt, &st.Details, &last)
	if err != nil {
		return Stats{}, err
	}
	if last.Valid {
		if st.LastDetailAt, err = parseTime(last.String); err != nil {
			return Stats{}, fmt.Errorf("parsing last detail time: %w", err)
		}
	}
	return st, nil
}

func encodeTypes(types []string) (string, error) {
	if len(types) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(types)
	if err != nil {
		return "", fmt.Errorf("encoding types: %w", err)
	}
	return string(b), nil
}

func decodeTypes(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var types []string
	if err := json.Unmarshal([]byte(raw), &types); err != nil {
		return nil, err
	}
	return types, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
