package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements PersistenceHook on top of database/sql and
// mattn/go-sqlite3, following the same open/init/upsert shape the
// teacher's flow storage uses.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS sensors (
		node_id INTEGER NOT NULL,
		child_sensor_id INTEGER NOT NULL,
		sensor_type INTEGER NOT NULL,
		description TEXT NOT NULL,
		PRIMARY KEY (node_id, child_sensor_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// ObserveSensor upserts the (node_id, child_sensor_id) sensor row,
// creating the node row first if this node has never been seen.
func (s *SQLiteStore) ObserveSensor(nodeID, childSensorID, sensorType uint8, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO nodes (id) VALUES (?)`, nodeID); err != nil {
		return fmt.Errorf("store: ensure node row: %w", err)
	}

	var existingType uint8
	var existingDesc string
	err = tx.QueryRow(
		`SELECT sensor_type, description FROM sensors WHERE node_id = ? AND child_sensor_id = ?`,
		nodeID, childSensorID,
	).Scan(&existingType, &existingDesc)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(
			`INSERT INTO sensors (node_id, child_sensor_id, sensor_type, description) VALUES (?, ?, ?, ?)`,
			nodeID, childSensorID, sensorType, description,
		); err != nil {
			return fmt.Errorf("store: insert sensor: %w", err)
		}
	case err != nil:
		return fmt.Errorf("store: query sensor: %w", err)
	case existingType != sensorType || existingDesc != description:
		if _, err := tx.Exec(
			`UPDATE sensors SET sensor_type = ?, description = ? WHERE node_id = ? AND child_sensor_id = ?`,
			sensorType, description, nodeID, childSensorID,
		); err != nil {
			return fmt.Errorf("store: update sensor: %w", err)
		}
	}

	return tx.Commit()
}

// AllocateNodeID assigns max(id)+1, persists the new node row, and
// returns it. Bounded to maxAssignableNodeID (255 is reserved broadcast).
func (s *SQLiteStore) AllocateNodeID() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max, err := s.maxNodeIDLocked()
	if err != nil {
		return 0, err
	}
	if int(max)+1 > maxAssignableNodeID {
		return 0, ErrNodeIDOverflow
	}
	next := max + 1

	if _, err := s.db.Exec(`INSERT INTO nodes (id) VALUES (?)`, next); err != nil {
		return 0, fmt.Errorf("store: persist new node id: %w", err)
	}
	return next, nil
}

// MaxNodeID returns the highest persisted node id, or 0 if none exists.
func (s *SQLiteStore) MaxNodeID() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxNodeIDLocked()
}

func (s *SQLiteStore) maxNodeIDLocked() (uint8, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM nodes`).Scan(&max); err != nil {
		return 0, fmt.Errorf("store: query max node id: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint8(max.Int64), nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
