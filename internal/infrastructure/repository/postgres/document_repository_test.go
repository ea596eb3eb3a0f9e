package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := &DocumentRepository{db: db, now: func() time.Time { return fixedNow }}
	return repo, mock, func() { _ = db.Close() }
}

var documentRowColumns = []string{
	"id", "source_type", "filename", "file_reference", "storage_url", "content_text", "status",
	"extracted_text", "ocr_result", "analysis_result", "processed_at", "created_at", "updated_at",
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, source_type, filename").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansNullableColumns(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, source_type, filename").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).AddRow(
			"doc-1", "download", "ihale.zip", "tenders/1/ihale.zip", "", "", "completed",
			"full text", []byte(`{"applied":true,"method":"vision","original_chars":3,"ocr_chars":900}`),
			[]byte(`{"title":"X"}`), fixedNow, fixedNow, fixedNow,
		))

	doc, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.SourceType != domain.SourceDownload || doc.Status != domain.StatusCompleted {
		t.Fatalf("unexpected doc %+v", doc)
	}
	if doc.ExtractedText == nil || *doc.ExtractedText != "full text" {
		t.Fatalf("unexpected extracted text %v", doc.ExtractedText)
	}
	if doc.OCRResult == nil || !doc.OCRResult.Applied || doc.OCRResult.OCRChars != 900 {
		t.Fatalf("unexpected ocr result %+v", doc.OCRResult)
	}
	if string(doc.AnalysisResult) != `{"title":"X"}` || doc.ProcessedAt == nil {
		t.Fatalf("unexpected analysis %s / processed_at %v", doc.AnalysisResult, doc.ProcessedAt)
	}
}

func TestListByStatusOrdersOldestFirst(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`WHERE status IN \(\$1, \$2\)\s+ORDER BY created_at ASC\s+LIMIT \$3`).
		WithArgs("pending", "queued", 5).
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("a", "content", "a.txt", "", "", "hello", "pending", nil, nil, nil, nil, fixedNow, fixedNow).
			AddRow("b", "upload", "b.pdf", "b.pdf", "", "", "queued", nil, nil, nil, nil, fixedNow, fixedNow))

	docs, err := repo.ListByStatus(context.Background(), []domain.DocumentStatus{domain.StatusPending, domain.StatusQueued}, 5)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if docs[0].ExtractedText != nil || docs[0].OCRResult != nil || docs[0].AnalysisResult != nil {
		t.Fatalf("expected null columns to stay nil: %+v", docs[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusOnlyFromPredecessors(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE documents\s+SET status = \$2, updated_at = \$3\s+WHERE id = \$1 AND status IN \(\$4, \$5\)`).
		WithArgs("doc-1", "processing", fixedNow, "pending", "queued").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateStatus(context.Background(), "doc-1", domain.StatusProcessing); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", "processing", fixedNow, "pending", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusProcessing)
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusRejectsBackwardMove(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", "processing", fixedNow, "pending", "queued").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := repo.UpdateStatus(context.Background(), "doc-1", domain.StatusProcessing)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatusToPendingIsNeverAllowed(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	err := repo.UpdateStatus(context.Background(), "doc-1", domain.StatusPending)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statement expected: %v", err)
	}
}

func TestCompletePersistsNullAnalysis(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`SET status = \$2, extracted_text = \$3, ocr_result = \$4, analysis_result = \$5`).
		WithArgs("doc-1", "completed", "plain text", nil, nil, fixedNow, "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Complete(context.Background(), "doc-1", domain.ProcessResult{Text: "plain text"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteRejectsAnalysisWithoutText(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	err := repo.Complete(context.Background(), "doc-1", domain.ProcessResult{Analysis: map[string]any{"title": "x"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMarkFailedFromProcessing(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`SET status = \$2, processed_at = \$3, updated_at = \$3`).
		WithArgs("doc-1", "failed", fixedNow, "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailed(context.Background(), "doc-1"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("GROUP BY status, source_type").
		WillReturnRows(sqlmock.NewRows([]string{"status", "source_type", "count"}).
			AddRow("pending", "upload", 2).
			AddRow("queued", "content", 1))

	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if len(counts) != 2 || counts[0].Count != 2 || counts[1].SourceType != domain.SourceContent {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestCreateRejectsUnknownSourceType(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	err := repo.Create(context.Background(), &domain.Document{ID: "x", SourceType: "ftp", Status: domain.StatusQueued})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
