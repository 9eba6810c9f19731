// Package store persists projects and verification records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/metrics"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the SQLite-backed persistence layer.
type Store struct {
	db   *sqlx.DB
	path string
}

// New opens (creating if needed) the database at the configured path and
// initializes the schema.
func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sqlx.Open("sqlite3", cfg.Path+"?_journal=WAL&_sync=NORMAL&_cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	s := &Store{db: db, path: cfg.Path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		project_type TEXT NOT NULL,
		area_hectares REAL NOT NULL,
		start_date DATETIME NOT NULL,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS verifications (
		record_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		verified INTEGER NOT NULL,
		confidence_score REAL NOT NULL,
		co2_estimate REAL NOT NULL,
		fraud_risk_score REAL NOT NULL,
		detail TEXT NOT NULL, -- JSON blob with full sub-results
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_project ON verifications(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveProject upserts a project descriptor.
func (s *Store) SaveProject(ctx context.Context, p types.ProjectDescriptor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects
			(project_id, name, lat, lng, project_type, area_hectares, start_date, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.Location.Lat, p.Location.Lng, p.ProjectType,
		p.AreaHectares, p.StartDate, p.Description)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("save_project", "error").Inc()
		return fmt.Errorf("failed to save project %s: %v", p.ProjectID, err)
	}
	metrics.StoreOperations.WithLabelValues("save_project", "success").Inc()
	return nil
}

type projectRow struct {
	ProjectID    string    `db:"project_id"`
	Name         string    `db:"name"`
	Lat          float64   `db:"lat"`
	Lng          float64   `db:"lng"`
	ProjectType  string    `db:"project_type"`
	AreaHectares float64   `db:"area_hectares"`
	StartDate    time.Time `db:"start_date"`
	Description  string    `db:"description"`
	CreatedAt    time.Time `db:"created_at"`
}

// GetProject fetches a stored project by id.
func (s *Store) GetProject(ctx context.Context, projectID string) (*types.ProjectDescriptor, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `
		SELECT project_id, name, lat, lng, project_type, area_hectares, start_date, description, created_at
		FROM projects WHERE project_id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		metrics.StoreOperations.WithLabelValues("get_project", "error").Inc()
		return nil, fmt.Errorf("failed to load project %s: %v", projectID, err)
	}
	metrics.StoreOperations.WithLabelValues("get_project", "success").Inc()
	return &types.ProjectDescriptor{
		ProjectID:    row.ProjectID,
		Name:         row.Name,
		Location:     types.GeoPoint{Lat: row.Lat, Lng: row.Lng},
		ProjectType:  row.ProjectType,
		AreaHectares: row.AreaHectares,
		StartDate:    row.StartDate,
		Description:  row.Description,
	}, nil
}

// SaveVerification persists one verification result, keeping the nested
// sub-results as a JSON blob alongside the queryable columns.
func (s *Store) SaveVerification(ctx context.Context, v types.VerificationResult) error {
	detail, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verification detail: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifications
			(record_id, project_id, verified, confidence_score, co2_estimate, fraud_risk_score, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RecordID, v.ProjectID, v.VerificationStatus, v.ConfidenceScore,
		v.CO2CaptureEstimate, v.FraudRiskScore, string(detail), v.Timestamp)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("save_verification", "error").Inc()
		return fmt.Errorf("failed to save verification %s: %v", v.RecordID, err)
	}

	metrics.StoreOperations.WithLabelValues("save_verification", "success").Inc()
	klog.V(3).InfoS("Stored verification record",
		"record", v.RecordID,
		"project", v.ProjectID,
		"verified", v.VerificationStatus)
	return nil
}

// ListVerifications returns the most recent verification records for a
// project, newest first.
func (s *Store) ListVerifications(ctx context.Context, projectID string, limit int) ([]types.VerificationResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var blobs []string
	err := s.db.SelectContext(ctx, &blobs, `
		SELECT detail FROM verifications
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("list_verifications", "error").Inc()
		return nil, fmt.Errorf("failed to list verifications for %s: %v", projectID, err)
	}

	results := make([]types.VerificationResult, 0, len(blobs))
	for _, blob := range blobs {
		var v types.VerificationResult
		if err := json.Unmarshal([]byte(blob), &v); err != nil {
			klog.V(2).InfoS("Skipping undecodable verification detail", "project", projectID, "error", err)
			continue
		}
		results = append(results, v)
	}
	metrics.StoreOperations.WithLabelValues("list_verifications", "success").Inc()
	return results, nil
}

// Cleanup removes verification records older than the retention window
// and returns how many were deleted.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM verifications WHERE created_at < ?`, cutoff)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("cleanup", "error").Inc()
		return 0, fmt.Errorf("failed to clean up verifications: %v", err)
	}
	deleted, _ := res.RowsAffected()
	metrics.StoreOperations.WithLabelValues("cleanup", "success").Inc()
	klog.V(2).InfoS("Cleaned up old verification records", "deleted", deleted, "retentionDays", retentionDays)
	return deleted, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
