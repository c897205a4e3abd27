package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"campusnav/presence-server/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed lookup matches no row. For location
// lookups it means the person has never been detected; whether the person
// exists at all is the directory's concern.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			faculty_id TEXT PRIMARY KEY,
			tag_id TEXT,
			scanner_id TEXT NOT NULL,
			room TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			last_seen TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS faculty (
			faculty_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			department TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_faculty_name ON faculty(name);`,
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scanner_id TEXT,
			payload TEXT,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// UpsertLocation writes a validated detection as the person's current
// location, unconditionally replacing any previous record and stamping
// last_seen with the processing time. Per-key atomicity comes from the
// single upsert statement; last write wins.
func (s *Store) UpsertLocation(ctx context.Context, d model.Detection) (model.LocationRecord, error) {
	if s.db == nil {
		return model.LocationRecord{}, fmt.Errorf("store not initialized")
	}

	lastSeen := time.Now().UTC()

	var tagID sql.NullString
	if d.TagID != nil {
		tagID = sql.NullString{String: *d.TagID, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO locations (faculty_id, tag_id, scanner_id, room, rssi, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(faculty_id)
		 DO UPDATE SET tag_id = excluded.tag_id,
				 scanner_id = excluded.scanner_id,
				 room = excluded.room,
				 rssi = excluded.rssi,
				 last_seen = excluded.last_seen;`,
		d.FacultyID,
		tagID,
		d.ScannerID,
		d.Room,
		d.RSSI,
		lastSeen.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.LocationRecord{}, fmt.Errorf("upsert location: %w", err)
	}

	return model.LocationRecord{
		FacultyID: d.FacultyID,
		TagID:     d.TagID,
		ScannerID: d.ScannerID,
		Room:      d.Room,
		RSSI:      d.RSSI,
		LastSeen:  lastSeen,
	}, nil
}

// GetLocation returns the current location record for a faculty id, or
// ErrNotFound when the person has never been detected.
func (s *Store) GetLocation(ctx context.Context, facultyID string) (model.LocationRecord, error) {
	if s.db == nil {
		return model.LocationRecord{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT faculty_id, tag_id, scanner_id, room, rssi, last_seen FROM locations WHERE faculty_id = ?;`,
		facultyID,
	)

	record, err := scanLocation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationRecord{}, ErrNotFound
	}
	if err != nil {
		return model.LocationRecord{}, fmt.Errorf("get location: %w", err)
	}
	return record, nil
}

// LatestLocations returns the current record for every tracked person,
// most recently seen first.
func (s *Store) LatestLocations(ctx context.Context) ([]model.LocationRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT faculty_id, tag_id, scanner_id, room, rssi, last_seen FROM locations ORDER BY last_seen DESC;`,
	)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var records []model.LocationRecord
	for rows.Next() {
		record, err := scanLocation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}

	return records, nil
}

func scanLocation(scan func(dest ...any) error) (model.LocationRecord, error) {
	var (
		facultyID   string
		tagID       sql.NullString
		scannerID   string
		room        string
		rssi        int
		lastSeenStr string
	)

	if err := scan(&facultyID, &tagID, &scannerID, &room, &rssi, &lastSeenStr); err != nil {
		return model.LocationRecord{}, err
	}

	lastSeen, err := time.Parse(time.RFC3339Nano, lastSeenStr)
	if err != nil {
		lastSeen, _ = time.Parse("2006-01-02T15:04:05Z07:00", lastSeenStr)
	}

	record := model.LocationRecord{
		FacultyID: facultyID,
		ScannerID: scannerID,
		Room:      room,
		RSSI:      rssi,
		LastSeen:  lastSeen,
	}
	if tagID.Valid {
		record.TagID = &tagID.String
	}
	return record, nil
}

// UpsertFaculty creates or updates a directory entry.
func (s *Store) UpsertFaculty(ctx context.Context, m model.FacultyMember) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO faculty (faculty_id, name, department) VALUES (?, ?, ?)
		 ON CONFLICT(faculty_id) DO UPDATE SET name = excluded.name, department = excluded.department;`,
		m.FacultyID,
		m.Name,
		m.Department,
	)
	if err != nil {
		return fmt.Errorf("upsert faculty: %w", err)
	}
	return nil
}

// FacultyByID returns the directory entry for a faculty id.
func (s *Store) FacultyByID(ctx context.Context, facultyID string) (model.FacultyMember, error) {
	if s.db == nil {
		return model.FacultyMember{}, fmt.Errorf("store not initialized")
	}

	var m model.FacultyMember
	err := s.db.QueryRowContext(
		ctx,
		`SELECT faculty_id, name, department FROM faculty WHERE faculty_id = ?;`,
		facultyID,
	).Scan(&m.FacultyID, &m.Name, &m.Department)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FacultyMember{}, ErrNotFound
	}
	if err != nil {
		return model.FacultyMember{}, fmt.Errorf("faculty by id: %w", err)
	}
	return m, nil
}

// FacultyByName resolves a human-facing name to a directory entry,
// case-insensitively. The first match wins.
func (s *Store) FacultyByName(ctx context.Context, name string) (model.FacultyMember, error) {
	if s.db == nil {
		return model.FacultyMember{}, fmt.Errorf("store not initialized")
	}

	var m model.FacultyMember
	err := s.db.QueryRowContext(
		ctx,
		`SELECT faculty_id, name, department FROM faculty WHERE name = ? COLLATE NOCASE ORDER BY faculty_id LIMIT 1;`,
		name,
	).Scan(&m.FacultyID, &m.Name, &m.Department)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FacultyMember{}, ErrNotFound
	}
	if err != nil {
		return model.FacultyMember{}, fmt.Errorf("faculty by name: %w", err)
	}
	return m, nil
}

// ListFaculty returns all directory entries ordered by name.
func (s *Store) ListFaculty(ctx context.Context) ([]model.FacultyMember, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT faculty_id, name, department FROM faculty ORDER BY name ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query faculty: %w", err)
	}
	defer rows.Close()

	var members []model.FacultyMember
	for rows.Next() {
		var m model.FacultyMember
		if err := rows.Scan(&m.FacultyID, &m.Name, &m.Department); err != nil {
			return nil, fmt.Errorf("scan faculty: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faculty: %w", err)
	}

	return members, nil
}

// InsertIngestionError records a payload that failed validation.
func (s *Store) InsertIngestionError(ctx context.Context, e model.IngestionError) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (scanner_id, payload, reason) VALUES (?, ?, ?);`,
		e.ScannerID,
		e.Payload,
		e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// WipeData removes all tracking state and audit rows while preserving the
// faculty directory.
func (s *Store) WipeData(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	stmts := []string{
		`DELETE FROM locations;`,
		`DELETE FROM ingestion_errors;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("wipe data: %w", err)
		}
	}

	return nil
}
