// Package celldb is a cell positioning backend. Cell towers are resolved
// against a local sqlite table, seeded from an OpenCellID export.
package celldb

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// Cell identifies a tower, and once resolved, where it is
type Cell struct {
	Radio     string  `json:"radio"`
	MCC       int     `json:"mcc"`
	MNC       int     `json:"mnc"`
	LAC       int     `json:"lac"`
	CellID    int64   `json:"cell_id"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Range     float64 `json:"range,omitempty"` // meters
	Samples   int     `json:"samples,omitempty"`
}

func (c Cell) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", c.MCC, c.MNC, c.LAC, c.CellID)
}

// ParseCell reads the mcc-mnc-lac-cid form String produces
func ParseCell(s string) (Cell, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 4 {
		return Cell{}, fmt.Errorf("cell %q: want mcc-mnc-lac-cid: %w", s, pkg.ErrParameter)
	}
	var c Cell
	var err error
	for i, dst := range []*int{&c.MCC, &c.MNC, &c.LAC} {
		if *dst, err = strconv.Atoi(parts[i]); err != nil {
			return Cell{}, fmt.Errorf("cell %q: %v: %w", s, err, pkg.ErrParameter)
		}
	}
	if c.CellID, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return Cell{}, fmt.Errorf("cell %q: %v: %w", s, err, pkg.ErrParameter)
	}
	return c, nil
}

// DB stores tower positions
type DB struct {
	db     *sql.DB
	path   string
	logger *logx.Logger
}

// Open opens or creates the database at path
func Open(path string, logger *logx.Logger) (*DB, error) {
	if logger == nil {
		logger = logx.Discard()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	d := &DB{db: db, path: path, logger: logger}
	if err := d.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("cell_database_opened", "database_path", path)
	return d, nil
}

func (d *DB) initialize() error {
	_, err := d.db.Exec(`
	CREATE TABLE IF NOT EXISTS cells (
		radio TEXT NOT NULL DEFAULT '',
		mcc INTEGER NOT NULL,
		mnc INTEGER NOT NULL,
		lac INTEGER NOT NULL,
		cid INTEGER NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		radius REAL NOT NULL DEFAULT 1000,
		samples INTEGER NOT NULL DEFAULT 1,
		updated DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (mcc, mnc, lac, cid)
	);
	`)
	return err
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Upsert stores or replaces a tower
func (d *DB) Upsert(ctx context.Context, c Cell) error {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("cell %s position out of range: %w", c, pkg.ErrParameter)
	}
	if c.Range <= 0 {
		c.Range = 1000
	}
	if c.Samples <= 0 {
		c.Samples = 1
	}
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO cells (radio, mcc, mnc, lac, cid, lat, lon, radius, samples, updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mcc, mnc, lac, cid) DO UPDATE SET
		radio = excluded.radio, lat = excluded.lat, lon = excluded.lon,
		radius = excluded.radius, samples = excluded.samples, updated = excluded.updated`,
		c.Radio, c.MCC, c.MNC, c.LAC, c.CellID, c.Latitude, c.Longitude, c.Range, c.Samples, time.Now().UTC())
	return err
}

// Observe folds a GPS-backed sighting of c into the stored estimate as a
// running mean.
func (d *DB) Observe(ctx context.Context, c Cell, pos pkg.Position, acc pkg.Accuracy) error {
	known, err := d.Lookup(ctx, c)
	if errors.Is(err, pkg.ErrNotFound) {
		c.Latitude, c.Longitude, c.Samples = pos.Latitude, pos.Longitude, 1
		c.Range = acc.Horizontal
		return d.Upsert(ctx, c)
	}
	if err != nil {
		return err
	}
	n := float64(known.Samples)
	known.Latitude = (known.Latitude*n + pos.Latitude) / (n + 1)
	known.Longitude = (known.Longitude*n + pos.Longitude) / (n + 1)
	known.Samples++
	if c.Radio != "" {
		known.Radio = c.Radio
	}
	return d.Upsert(ctx, known)
}

// Lookup resolves a tower by its identity
func (d *DB) Lookup(ctx context.Context, c Cell) (Cell, error) {
	row := d.db.QueryRowContext(ctx, `
	SELECT radio, lat, lon, radius, samples FROM cells
	WHERE mcc = ? AND mnc = ? AND lac = ? AND cid = ?`, c.MCC, c.MNC, c.LAC, c.CellID)
	out := c
	if err := row.Scan(&out.Radio, &out.Latitude, &out.Longitude, &out.Range, &out.Samples); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cell{}, fmt.Errorf("cell %s: %w", c, pkg.ErrNotFound)
		}
		return Cell{}, err
	}
	return out, nil
}

// Count returns the number of stored towers
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&n)
	return n, err
}

// ImportCSV loads an OpenCellID export
// (radio,mcc,net,area,cell,unit,lon,lat,range,samples,...). A header line is
// skipped. It returns how many rows were stored.
func (d *DB) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO cells (radio, mcc, mnc, lac, cid, lat, lon, radius, samples)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n, line := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "radio") {
			continue
		}
		c, err := parseRecord(rec)
		if err != nil {
			d.logger.Debug("cell_import_row_skipped", "line", line, "error", err)
			continue
		}
		if _, err := stmt.ExecContext(ctx, c.Radio, c.MCC, c.MNC, c.LAC, c.CellID, c.Latitude, c.Longitude, c.Range, c.Samples); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, err
	}
	d.logger.Info("cell_import_completed", "rows", n)
	return n, nil
}

func parseRecord(rec []string) (Cell, error) {
	if len(rec) < 10 {
		return Cell{}, fmt.Errorf("expected at least 10 fields, got %d", len(rec))
	}
	var c Cell
	var err error
	c.Radio = rec[0]
	ints := []*int{&c.MCC, &c.MNC, &c.LAC}
	for i, dst := range ints {
		if *dst, err = strconv.Atoi(rec[i+1]); err != nil {
			return Cell{}, err
		}
	}
	if c.CellID, err = strconv.ParseInt(rec[4], 10, 64); err != nil {
		return Cell{}, err
	}
	if c.Longitude, err = strconv.ParseFloat(rec[6], 64); err != nil {
		return Cell{}, err
	}
	if c.Latitude, err = strconv.ParseFloat(rec[7], 64); err != nil {
		return Cell{}, err
	}
	if c.Range, err = strconv.ParseFloat(rec[8], 64); err != nil {
		return Cell{}, err
	}
	if c.Samples, err = strconv.Atoi(rec[9]); err != nil {
		return Cell{}, err
	}
	return c, nil
}
