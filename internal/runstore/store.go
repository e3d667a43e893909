// Package runstore provides SQLite-backed persistence for generation runs:
// the decomposition produced at the start of a run and the full result
// recorded at the end.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kubrick-video/kubrick/internal/domain"
)

// Store provides SQLite-backed run persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the run database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDecomposition records the director's output for a run so a run can be
// inspected even if it dies before producing a result.
func (s *Store) SaveDecomposition(runID domain.RunID, desc domain.VideoDescription, subs []domain.SubProcessDescription) error {
	descJSON, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	subsJSON, err := json.Marshal(subs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO decompositions (run_id, description_json, sub_processes_json)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			description_json = excluded.description_json,
			sub_processes_json = excluded.sub_processes_json
	`, string(runID), string(descJSON), string(subsJSON))
	return err
}

// GetDecomposition loads the stored decomposition for a run.
func (s *Store) GetDecomposition(runID domain.RunID) (domain.VideoDescription, []domain.SubProcessDescription, error) {
	var descJSON, subsJSON string
	err := s.db.QueryRow(`
		SELECT description_json, sub_processes_json FROM decompositions WHERE run_id = ?
	`, string(runID)).Scan(&descJSON, &subsJSON)
	if err != nil {
		return domain.VideoDescription{}, nil, err
	}

	var desc domain.VideoDescription
	if err := json.Unmarshal([]byte(descJSON), &desc); err != nil {
		return domain.VideoDescription{}, nil, err
	}
	var subs []domain.SubProcessDescription
	if err := json.Unmarshal([]byte(subsJSON), &subs); err != nil {
		return domain.VideoDescription{}, nil, err
	}
	return desc, subs, nil
}

// SaveResult records the final result of a run. Saving twice for the same
// run replaces the earlier record.
func (s *Store) SaveResult(result *domain.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	var finalScore sql.NullFloat64
	if result.FinalScore != nil {
		finalScore = sql.NullFloat64{Float64: *result.FinalScore, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, description, success, output_path, total_iterations, elapsed_ms, final_score, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			description = excluded.description,
			success = excluded.success,
			output_path = excluded.output_path,
			total_iterations = excluded.total_iterations,
			elapsed_ms = excluded.elapsed_ms,
			final_score = excluded.final_score,
			result_json = excluded.result_json
	`,
		string(result.RunID),
		result.Description,
		result.Success,
		result.OutputPath,
		result.TotalIterations,
		result.Elapsed.Milliseconds(),
		finalScore,
		string(resultJSON),
	)
	return err
}

// GetResult loads the full result of a run.
func (s *Store) GetResult(runID domain.RunID) (*domain.RunResult, error) {
	var resultJSON string
	err := s.db.QueryRow(`SELECT result_json FROM runs WHERE run_id = ?`, string(runID)).Scan(&resultJSON)
	if err != nil {
		return nil, err
	}

	var result domain.RunResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID           domain.RunID
	Description     string
	Success         bool
	OutputPath      string
	TotalIterations int
	Elapsed         time.Duration
	FinalScore      *float64
	CreatedAt       time.Time
}

// ListResults returns the most recent runs, newest first. A non-positive
// limit returns everything.
func (s *Store) ListResults(limit int) ([]RunSummary, error) {
	query := `
		SELECT run_id, description, success, output_path, total_iterations, elapsed_ms, final_score, created_at
		FROM runs ORDER BY created_at DESC, run_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var (
			sum        RunSummary
			runID      string
			outputPath sql.NullString
			elapsedMS  int64
			finalScore sql.NullFloat64
		)
		if err := rows.Scan(&runID, &sum.Description, &sum.Success, &outputPath,
			&sum.TotalIterations, &elapsedMS, &finalScore, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.RunID = domain.RunID(runID)
		sum.OutputPath = outputPath.String
		sum.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if finalScore.Valid {
			score := finalScore.Float64
			sum.FinalScore = &score
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
