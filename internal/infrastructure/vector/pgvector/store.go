// Package pgvector implements the vector-search collaborator on Postgres with
// the pgvector extension. Namespaces share one table and are selected by
// column, which keeps cross-namespace fan-out a matter of concurrent queries.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

type Store struct {
	db    *sql.DB
	table string
}

func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = "rag_chunks"
	}
	return &Store{db: db, table: table}
}

// Search ranks chunks by cosine similarity within one namespace, applying the
// metadata filter and similarity threshold in SQL.
func (s *Store) Search(
	ctx context.Context,
	vector []float32,
	namespace string,
	filter domain.MetadataFilter,
	threshold float64,
	limit int,
) ([]domain.RetrievalCandidate, error) {
	args := []any{pgvec.NewVector(vector), namespace, threshold}
	var conditions []string

	for _, tag := range filter.RequiredTags {
		args = append(args, tag)
		conditions = append(conditions, fmt.Sprintf("tags @> ARRAY[$%d]::text[]", len(args)))
	}
	if len(filter.ContentTypes) > 0 {
		args = append(args, strings.Join(filter.ContentTypes, ","))
		conditions = append(conditions, fmt.Sprintf("content_type = ANY(string_to_array($%d, ','))", len(args)))
	}
	if filter.YearGTE != nil {
		args = append(args, *filter.YearGTE)
		conditions = append(conditions, fmt.Sprintf("year >= $%d", len(args)))
	}
	if filter.YearLTE != nil {
		args = append(args, *filter.YearLTE)
		conditions = append(conditions, fmt.Sprintf("year <= $%d", len(args)))
	}

	extra := ""
	if len(conditions) > 0 {
		extra = " AND " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT chunk_id, document_id, text, citation, url, organization, year,
content_type, license, array_to_string(tags, ','), 1 - (embedding <=> $1) AS score
FROM %s
WHERE namespace = $2 AND 1 - (embedding <=> $1) >= $3%s
ORDER BY embedding <=> $1
LIMIT $%d`, s.table, extra, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var candidates []domain.RetrievalCandidate
	for rows.Next() {
		var cand domain.RetrievalCandidate
		var tags string
		if err := rows.Scan(
			&cand.ChunkID,
			&cand.DocumentID,
			&cand.Text,
			&cand.Provenance.Citation,
			&cand.Provenance.URL,
			&cand.Provenance.Organization,
			&cand.Provenance.Year,
			&cand.Provenance.ContentType,
			&cand.Provenance.License,
			&tags,
			&cand.Score,
		); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		cand.Namespace = namespace
		if tags != "" {
			cand.Provenance.Tags = strings.Split(tags, ",")
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return candidates, nil
}
