package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Several workers may start at once.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL CHECK (source_type IN ('upload', 'download', 'content')),
	filename TEXT NOT NULL DEFAULT '',
	file_reference TEXT NOT NULL DEFAULT '',
	storage_url TEXT NOT NULL DEFAULT '',
	content_text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('pending', 'queued', 'processing', 'completed', 'failed')),
	extracted_text TEXT,
	ocr_result JSONB,
	analysis_result JSONB,
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (analysis_result IS NULL OR COALESCE(extracted_text, '') <> '')
);

CREATE INDEX IF NOT EXISTS idx_documents_status_created_at ON documents(status, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if !doc.SourceType.Valid() || !doc.Status.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "insert document",
			fmt.Errorf("source_type=%q status=%q", doc.SourceType, doc.Status))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, source_type, filename, file_reference, storage_url, content_text, status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		doc.ID, string(doc.SourceType), doc.Filename, doc.FileReference, doc.StorageURL, doc.ContentText,
		string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, source_type, filename, file_reference, storage_url, content_text, status,
	extracted_text, ocr_result, analysis_result, processed_at, created_at, updated_at`

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByStatus(ctx context.Context, statuses []domain.DocumentStatus, limit int) ([]domain.Document, error) {
	if len(statuses) == 0 {
		return []domain.Document{}, nil
	}
	if limit <= 0 {
		limit = 1
	}
	placeholders, args := statusArgs(statuses, 1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE status IN (`+placeholders+`)
ORDER BY created_at ASC
LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0, limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// UpdateStatus only moves a document from one of the allowed predecessor
// states, so a stale writer cannot move it backwards.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	from := domain.PredecessorsOf(status)
	if len(from) == 0 {
		return domain.WrapError(domain.ErrInvalidTransition, "update document status", fmt.Errorf("nothing moves to %q", status))
	}
	placeholders, args := statusArgs(from, 4)

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, updated_at = $3
WHERE id = $1 AND status IN (`+placeholders+`)
`, append([]any{id, string(status), r.now()}, args...)...)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return r.checkMoved(ctx, result, id, status)
}

func (r *DocumentRepository) Complete(ctx context.Context, id string, res domain.ProcessResult) error {
	if res.Analysis != nil && strings.TrimSpace(res.Text) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "complete document", errors.New("analysis without extracted text"))
	}
	ocrJSON, err := nullableJSON(res.OCR, res.OCR == nil)
	if err != nil {
		return fmt.Errorf("marshal ocr result: %w", err)
	}
	analysisJSON, err := nullableJSON(res.Analysis, res.Analysis == nil)
	if err != nil {
		return fmt.Errorf("marshal analysis result: %w", err)
	}

	placeholders, args := statusArgs(domain.PredecessorsOf(domain.StatusCompleted), 7)
	now := r.now()
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, extracted_text = $3, ocr_result = $4, analysis_result = $5, processed_at = $6, updated_at = $6
WHERE id = $1 AND status IN (`+placeholders+`)
`, append([]any{id, string(domain.StatusCompleted), res.Text, ocrJSON, analysisJSON, now}, args...)...)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	return r.checkMoved(ctx, result, id, domain.StatusCompleted)
}

// MarkFailed stores only the terminal status; partial results are dropped.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id string) error {
	placeholders, args := statusArgs(domain.PredecessorsOf(domain.StatusFailed), 4)
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, processed_at = $3, updated_at = $3
WHERE id = $1 AND status IN (`+placeholders+`)
`, append([]any{id, string(domain.StatusFailed), r.now()}, args...)...)
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return r.checkMoved(ctx, result, id, domain.StatusFailed)
}

func (r *DocumentRepository) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT status, source_type, COUNT(*)
FROM documents
GROUP BY status, source_type
`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StatusCount, 0)
	for rows.Next() {
		var status, source string
		var count int
		if err := rows.Scan(&status, &source, &count); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		out = append(out, domain.StatusCount{
			Status:     domain.DocumentStatus(status),
			SourceType: domain.SourceType(source),
			Count:      count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document counts: %w", err)
	}
	return out, nil
}

// checkMoved turns "0 rows updated" into not-found or invalid-transition.
func (r *DocumentRepository) checkMoved(ctx context.Context, result sql.Result, id string, to domain.DocumentStatus) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read document status: %w", err)
	}
	return domain.ValidateTransition(domain.DocumentStatus(current), to)
}

func statusArgs(statuses []domain.DocumentStatus, firstIndex int) (string, []any) {
	parts := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		parts[i] = fmt.Sprintf("$%d", firstIndex+i)
		args[i] = string(s)
	}
	return strings.Join(parts, ", "), args
}

func nullableJSON(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type documentScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row documentScanner) (domain.Document, error) {
	var (
		doc           domain.Document
		sourceType    string
		status        string
		extractedText sql.NullString
		ocrRaw        []byte
		analysisRaw   []byte
		processedAt   sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &sourceType, &doc.Filename, &doc.FileReference, &doc.StorageURL, &doc.ContentText, &status,
		&extractedText, &ocrRaw, &analysisRaw, &processedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}

	doc.SourceType = domain.SourceType(sourceType)
	doc.Status = domain.DocumentStatus(status)
	if extractedText.Valid {
		text := extractedText.String
		doc.ExtractedText = &text
	}
	if len(ocrRaw) > 0 {
		var ocr domain.OCRResult
		if err := json.Unmarshal(ocrRaw, &ocr); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal ocr result: %w", err)
		}
		doc.OCRResult = &ocr
	}
	if len(analysisRaw) > 0 {
		doc.AnalysisResult = json.RawMessage(analysisRaw)
	}
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	return doc, nil
}
