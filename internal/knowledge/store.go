package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    source_type TEXT NOT NULL DEFAULT 'general',
    metadata TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_source_type ON documents(source_type);
`

// Store is a SQLite-backed document store with lexical ranking. It stands in
// for a remote embedding index; queries degrade to empty results on failure.
type Store struct {
	db           *sql.DB
	chunkSize    int
	chunkOverlap int
}

// Options configures document chunking.
type Options struct {
	ChunkSize    int // words per chunk
	ChunkOverlap int // words shared between adjacent chunks
}

// NewStore opens (or creates) the knowledge database at dbPath.
func NewStore(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 100
	}

	return &Store{db: db, chunkSize: opts.ChunkSize, chunkOverlap: opts.ChunkOverlap}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load chunks and stores documents, returning the number of chunks added.
// metadata may be nil or shorter than documents; missing entries get only the
// source type.
func (s *Store) Load(ctx context.Context, documents []string, metadata []map[string]string, sourceType string) (int, error) {
	if len(documents) == 0 {
		return 0, nil
	}
	if sourceType == "" {
		sourceType = "general"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	now := time.Now()
	for i, doc := range documents {
		meta := map[string]string{}
		if i < len(metadata) && metadata[i] != nil {
			for k, v := range metadata[i] {
				meta[k] = v
			}
		}
		meta["source_type"] = sourceType

		for chunkIdx, chunk := range splitDocument(doc, s.chunkSize, s.chunkOverlap) {
			meta["chunk"] = fmt.Sprintf("%d", chunkIdx)
			metaJSON, err := json.Marshal(meta)
			if err != nil {
				return added, err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (id, content, source_type, metadata, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, uuid.NewString(), chunk, sourceType, string(metaJSON), now)
			if err != nil {
				return added, err
			}
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// Query returns up to k snippets ranked by lexical overlap with text.
// Any failure yields an empty result; retrieval is never load-bearing.
func (s *Store) Query(ctx context.Context, text string, k int) []Snippet {
	if k <= 0 {
		return nil
	}

	queryTokens := tokenize(text)
	if len(queryTokens) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, metadata FROM documents`)
	if err != nil {
		log.Printf("[knowledge] query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var results []Snippet
	for rows.Next() {
		var content string
		var metaJSON sql.NullString
		if err := rows.Scan(&content, &metaJSON); err != nil {
			log.Printf("[knowledge] scan failed: %v", err)
			return nil
		}

		score := overlapScore(queryTokens, tokenize(content))
		if score <= 0 {
			continue
		}

		meta := map[string]string{}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
				meta = map[string]string{}
			}
		}
		results = append(results, Snippet{
			Document: content,
			Metadata: meta,
			Distance: 1.0 - score,
		})
	}
	if err := rows.Err(); err != nil {
		log.Printf("[knowledge] query failed: %v", err)
		return nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Stats reports document counts by source type.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_type, COUNT(*) FROM documents GROUP BY source_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := 0
	bySource := map[string]int{}
	for rows.Next() {
		var sourceType string
		var count int
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, err
		}
		bySource[sourceType] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return map[string]any{
		"total_documents": total,
		"source_types":    bySource,
	}, nil
}

// splitDocument slices text into overlapping word windows.
func splitDocument(text string, chunkSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	step := chunkSize - overlap
	for i := 0; i < len(words); i += step {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(tok) > 2 {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the document.
func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := doc[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

var _ Retriever = (*Store)(nil)
