package celldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/locationd/pkg"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/provider"
)

// CellSource reports the cells the modem currently hears, serving cell
// first.
type CellSource interface {
	Cells(ctx context.Context) ([]Cell, error)
}

// StaticSource always reports the same cells. It backs configurations where
// the modem data comes from the config file or a test.
type StaticSource []Cell

// Cells implements CellSource
func (s StaticSource) Cells(context.Context) ([]Cell, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("no cells configured: %w", pkg.ErrNotAvailable)
	}
	return append([]Cell(nil), s...), nil
}

// CPS resolves the heard cells and returns their weighted centroid. It
// implements provider.CPSOps.
type CPS struct {
	db      *DB
	source  CellSource
	timeout time.Duration
	clock   func() time.Time
	logger  *logx.Logger
}

// NewCPS creates the cell positioning backend
func NewCPS(db *DB, source CellSource, logger *logx.Logger) *CPS {
	if logger == nil {
		logger = logx.Discard()
	}
	return &CPS{db: db, source: source, timeout: 10 * time.Second, clock: time.Now, logger: logger}
}

// Position implements provider.PositionOps. Towers are weighted by the
// inverse of their coverage radius; the reported accuracy is the smallest
// radius among the resolved towers.
func (c *CPS) Position() (pkg.Position, pkg.Accuracy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	heard, err := c.source.Cells(ctx)
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("read cells: %w", err)
	}

	var lat, lon, weights float64
	best := 0.0
	resolved := 0
	for _, h := range heard {
		cell, err := c.db.Lookup(ctx, h)
		if errors.Is(err, pkg.ErrNotFound) {
			c.logger.Debug("cell_unknown", "cell", h.String())
			continue
		}
		if err != nil {
			return pkg.Position{}, pkg.Accuracy{}, err
		}
		w := 1 / cell.Range
		lat += cell.Latitude * w
		lon += cell.Longitude * w
		weights += w
		if best == 0 || cell.Range < best {
			best = cell.Range
		}
		resolved++
	}
	if resolved == 0 {
		return pkg.Position{}, pkg.Accuracy{}, fmt.Errorf("none of %d cells is in the database: %w", len(heard), pkg.ErrNotFound)
	}

	pos, err := pkg.NewPosition(c.clock(), lat/weights, lon/weights, 0, pkg.Status2D)
	if err != nil {
		return pkg.Position{}, pkg.Accuracy{}, err
	}
	level := pkg.AccuracyStreet
	if best > 2000 {
		level = pkg.AccuracyLocality
	}
	c.logger.Debug("cps_fix", "cells_heard", len(heard), "cells_resolved", resolved, "accuracy_m", best)
	return pos, pkg.Accuracy{Level: level, Horizontal: best}, nil
}

// Module returns a factory serving the cps backend over the database at path
func Module(path string, source CellSource) provider.Factory {
	return func() provider.Module {
		var db *DB
		return provider.ModuleFuncs{
			InitFunc: func(logger *logx.Logger) (interface{}, error) {
				if source == nil {
					return nil, fmt.Errorf("no cell source: %w", pkg.ErrConfiguration)
				}
				var err error
				db, err = Open(path, logger)
				if err != nil {
					return nil, err
				}
				return NewCPS(db, source, logger), nil
			},
			ShutdownFunc: func() error {
				if db == nil {
					return nil
				}
				return db.Close()
			},
		}
	}
}
