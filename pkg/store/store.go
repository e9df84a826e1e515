package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists the tracker output of every processed frame
type Store struct {
	db *sql.DB
}

// FrameRecord is one processed frame and the identities alive after it
type FrameRecord struct {
	RunId        string
	SourceId     string
	FrameId      int64
	FrameTime    time.Time
	Detections   int
	Rejected     int
	Registered   int
	Evicted      int
	ProcessingMs float64
	Objects      []ObjectRecord
}

// ObjectRecord is the state of one identity in one frame
type ObjectRecord struct {
	FrameId    int64
	ObjectId   int
	Centroid   image.Point
	Box        image.Rectangle
	Class      string
	Confidence float64
	Zone       string
	Model      string
}

// FrameSummary is a row of the frames table
type FrameSummary struct {
	RunId        string
	SourceId     string
	FrameId      int64
	Detections   int
	Rejected     int
	Tracked      int
	Registered   int
	Evicted      int
	ProcessingMs float64
}

// New opens the sqlite database at path and migrates it to the latest schema
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: it would close the shared connection

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// RecordFrame stores the frame and its objects in a single transaction
func (s *Store) RecordFrame(ctx context.Context, r FrameRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO frames (run_id, source_id, frame_id, detections, rejected, tracked,
			registered, evicted, processing_ms, frame_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunId, r.SourceId, r.FrameId, r.Detections, r.Rejected, len(r.Objects),
		r.Registered, r.Evicted, r.ProcessingMs, r.FrameTime.UTC())
	if err != nil {
		return fmt.Errorf("insert frame [%d]: %w", r.FrameId, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_objects (run_id, source_id, frame_id, object_id, cx, cy,
			x1, y1, x2, y2, class, confidence, zone, model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare objects: %w", err)
	}
	defer stmt.Close()

	for _, o := range r.Objects {
		_, err := stmt.ExecContext(ctx, r.RunId, r.SourceId, r.FrameId, o.ObjectId,
			o.Centroid.X, o.Centroid.Y, o.Box.Min.X, o.Box.Min.Y, o.Box.Max.X, o.Box.Max.Y,
			o.Class, o.Confidence, o.Zone, o.Model)
		if err != nil {
			return fmt.Errorf("insert object [%d] of frame [%d]: %w", o.ObjectId, r.FrameId, err)
		}
	}

	return tx.Commit()
}

// ObjectHistory returns every recorded state of an identity, oldest frame first
func (s *Store) ObjectHistory(ctx context.Context, runId, sourceId string, objectId int) ([]ObjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_id, object_id, cx, cy, x1, y1, x2, y2, class, confidence, zone, model
		FROM tracked_objects
		WHERE run_id = ? AND source_id = ? AND object_id = ?
		ORDER BY frame_id`, runId, sourceId, objectId)
	if err != nil {
		return nil, fmt.Errorf("query object history: %w", err)
	}
	defer rows.Close()

	var out []ObjectRecord
	for rows.Next() {
		var o ObjectRecord
		var class, zone, model sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&o.FrameId, &o.ObjectId, &o.Centroid.X, &o.Centroid.Y,
			&o.Box.Min.X, &o.Box.Min.Y, &o.Box.Max.X, &o.Box.Max.Y,
			&class, &conf, &zone, &model); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		o.Class, o.Confidence, o.Zone, o.Model = class.String, conf.Float64, zone.String, model.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentFrames returns up to limit frames of a source, newest first
func (s *Store) RecentFrames(ctx context.Context, sourceId string, limit int) ([]FrameSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source_id, frame_id, detections, rejected, tracked, registered,
			evicted, processing_ms
		FROM frames
		WHERE source_id = ?
		ORDER BY recorded_at DESC, frame_id DESC
		LIMIT ?`, sourceId, limit)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []FrameSummary
	for rows.Next() {
		var f FrameSummary
		if err := rows.Scan(&f.RunId, &f.SourceId, &f.FrameId, &f.Detections, &f.Rejected,
			&f.Tracked, &f.Registered, &f.Evicted, &f.ProcessingMs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
