// Package history records finished generations in a local SQLite
// database so past prompts and artifacts can be recalled and replayed.
package history

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"gpubridge/internal/migrations"
)

var db *sql.DB

// GetDB returns the open database handle, or nil before Initialize.
func GetDB() *sql.DB {
	return db
}

// Initialize opens the history database and brings the schema up to date.
func Initialize(dbPath string) error {
	var err error
	db, err = sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("History database initialized at %s", dbPath)
	return nil
}

// Close closes the database handle.
func Close() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// Generation is one recorded run.
type Generation struct {
	ID           string
	PromptID     string
	Workflow     string
	Model        string
	Prompt       string
	Width        int
	Height       int
	ArtifactPath string
	Status       string
	CreatedAt    time.Time
}

// Record stores a finished generation and returns its assigned ID.
func Record(gen Generation) (string, error) {
	if db == nil {
		return "", fmt.Errorf("database not initialized")
	}

	if gen.ID == "" {
		gen.ID = uuid.New().String()
	}
	if gen.Status == "" {
		gen.Status = "completed"
	}
	createdAt := gen.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO generations (
			id, prompt_id, workflow, model, prompt,
			width, height, artifact_path, status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		gen.ID,
		gen.PromptID,
		gen.Workflow,
		gen.Model,
		gen.Prompt,
		gen.Width,
		gen.Height,
		gen.ArtifactPath,
		gen.Status,
		createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record generation: %w", err)
	}
	return gen.ID, nil
}

// Recent returns the latest generations, newest first.
func Recent(limit int) ([]Generation, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, prompt_id, workflow, model, prompt,
		       width, height, artifact_path, status, created_at
		FROM generations
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var generations []Generation
	for rows.Next() {
		var gen Generation
		err := rows.Scan(
			&gen.ID,
			&gen.PromptID,
			&gen.Workflow,
			&gen.Model,
			&gen.Prompt,
			&gen.Width,
			&gen.Height,
			&gen.ArtifactPath,
			&gen.Status,
			&gen.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		generations = append(generations, gen)
	}
	return generations, rows.Err()
}

// Get returns one recorded generation by ID.
func Get(id string) (*Generation, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT id, prompt_id, workflow, model, prompt,
		       width, height, artifact_path, status, created_at
		FROM generations
		WHERE id = ?
	`
	var gen Generation
	err := db.QueryRow(query, id).Scan(
		&gen.ID,
		&gen.PromptID,
		&gen.Workflow,
		&gen.Model,
		&gen.Prompt,
		&gen.Width,
		&gen.Height,
		&gen.ArtifactPath,
		&gen.Status,
		&gen.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return &gen, nil
}

// Prune deletes records older than keepDays and returns how many were
// removed.
func Prune(keepDays int) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	result, err := db.Exec(`DELETE FROM generations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune generations: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}
