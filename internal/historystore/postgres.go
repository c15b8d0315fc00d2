package historystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Postgres is a Store backed by a Postgres table, so a dicl example set
// survives process restarts and can be shared across gateway replicas.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres-backed Store at dsn.
func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres history store: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) init() error {
	if err := p.db.Ping(); err != nil {
		return fmt.Errorf("ping postgres history store: %w", err)
	}
	_, err := p.db.Exec(`
CREATE TABLE IF NOT EXISTS dicl_examples (
	id            TEXT PRIMARY KEY,
	function_name TEXT NOT NULL,
	variant_name  TEXT NOT NULL,
	input         TEXT NOT NULL,
	output        TEXT NOT NULL,
	embedding     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS dicl_examples_fn_variant_idx ON dicl_examples(function_name, variant_name);`)
	if err != nil {
		return fmt.Errorf("initialize dicl_examples schema: %w", err)
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, functionName, variantName string, ex Example) error {
	embedding, err := json.Marshal(ex.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO dicl_examples(id, function_name, variant_name, input, output, embedding)
VALUES($1, $2, $3, $4, $5, $6)
ON CONFLICT(id) DO UPDATE SET input = excluded.input, output = excluded.output, embedding = excluded.embedding`,
		ex.ID, functionName, variantName, ex.Input, ex.Output, embedding)
	if err != nil {
		return fmt.Errorf("insert dicl example: %w", err)
	}
	return nil
}

// NearestNeighbors loads every example registered for (functionName,
// variantName) and ranks it by cosine similarity to query in Go, since no
// vector index is assumed to be installed.
func (p *Postgres) NearestNeighbors(ctx context.Context, functionName, variantName string, query []float64, k int) ([]Example, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, input, output, embedding FROM dicl_examples WHERE function_name = $1 AND variant_name = $2`,
		functionName, variantName)
	if err != nil {
		return nil, fmt.Errorf("query dicl examples: %w", err)
	}
	defer rows.Close()

	var examples []Example
	for rows.Next() {
		var ex Example
		var embedding []byte
		if err := rows.Scan(&ex.ID, &ex.Input, &ex.Output, &embedding); err != nil {
			return nil, fmt.Errorf("scan dicl example: %w", err)
		}
		if err := json.Unmarshal(embedding, &ex.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topK(examples, query, k), nil
}

func (p *Postgres) Close() error { return p.db.Close() }
