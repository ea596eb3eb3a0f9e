package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type repoFake struct {
	mu        sync.Mutex
	docs      map[string]*domain.Document
	order     []string
	createErr error
	listErr   error
	claimErr  map[string]error
	completed map[string]domain.ProcessResult
	failed    []string
	counts    []domain.StatusCount
}

func newRepoFake(docs ...domain.Document) *repoFake {
	f := &repoFake{
		docs:      make(map[string]*domain.Document),
		claimErr:  make(map[string]error),
		completed: make(map[string]domain.ProcessResult),
	}
	for i := range docs {
		doc := docs[i]
		f.docs[doc.ID] = &doc
		f.order = append(f.order, doc.ID)
	}
	return f
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) ListByStatus(_ context.Context, statuses []domain.DocumentStatus, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Document, 0)
	for _, id := range f.order {
		doc := f.docs[id]
		for _, s := range statuses {
			if doc.Status == s {
				out = append(out, *doc)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *repoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.claimErr[id]; err != nil && status == domain.StatusProcessing {
		return err
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", errors.New(id))
	}
	if err := domain.ValidateTransition(doc.Status, status); err != nil {
		return err
	}
	doc.Status = status
	return nil
}

func (f *repoFake) Complete(_ context.Context, id string, result domain.ProcessResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	if err := domain.ValidateTransition(doc.Status, domain.StatusCompleted); err != nil {
		return err
	}
	doc.Status = domain.StatusCompleted
	f.completed[id] = result
	return nil
}

func (f *repoFake) MarkFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	if err := domain.ValidateTransition(doc.Status, domain.StatusFailed); err != nil {
		return err
	}
	doc.Status = domain.StatusFailed
	f.failed = append(f.failed, id)
	return nil
}

func (f *repoFake) CountByStatus(context.Context) ([]domain.StatusCount, error) {
	return f.counts, nil
}

func (f *repoFake) status(id string) domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

type storageFake struct {
	root      string
	savedKey  string
	savedBody string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

func (f *storageFake) Path(key string) (string, error) {
	return filepath.Join(f.root, key), nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishDocumentQueued(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentQueued(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type fetcherFake struct {
	data []byte
	err  error
}

func (f *fetcherFake) Fetch(context.Context, string, string) ([]byte, error) {
	return f.data, f.err
}

// resolverFake maps by filename extension, then by the extension of each
// ref, or returns ext for every file.
type resolverFake struct {
	ext  string
	refs []string
}

func (f *resolverFake) ResolveFile(path, name string, refs ...string) (string, error) {
	f.refs = refs
	if f.ext != "" {
		return f.ext, nil
	}
	if ext := filepath.Ext(name); ext != "" {
		return strings.ToLower(ext), nil
	}
	for _, ref := range refs {
		ref, _, _ = strings.Cut(ref, "?")
		if ext := filepath.Ext(ref); ext != "" {
			return strings.ToLower(ext), nil
		}
	}
	return "", nil
}

type extractorFake struct {
	text  string
	err   error
	calls int
}

func (f *extractorFake) ExtractText(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type registryFake map[string]ports.TextExtractor

func (f registryFake) For(ext string) (ports.TextExtractor, bool) {
	ex, ok := f[ext]
	return ex, ok
}

func (f registryFake) Supported(ext string) bool {
	_, ok := f[ext]
	return ok
}

type aiCall struct {
	kind     domain.TaskKind
	text     string
	mimeType string
}

// aiFake answers text calls with textReply and binary calls by MIME type.
type aiFake struct {
	mu         sync.Mutex
	textReply  string
	textErr    error
	imageReply map[string]string
	imageErr   map[string]error
	calls      []aiCall
}

func (f *aiFake) AnalyzeText(_ context.Context, kind domain.TaskKind, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, aiCall{kind: kind, text: text})
	return f.textReply, f.textErr
}

func (f *aiFake) AnalyzeImage(_ context.Context, kind domain.TaskKind, _ []byte, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, aiCall{kind: kind, mimeType: mimeType})
	if err := f.imageErr[mimeType]; err != nil {
		return "", err
	}
	return f.imageReply[mimeType], nil
}

func (f *aiFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type pagerFake struct {
	count    int
	pages    []string
	splitErr error
	images   []ports.PageImage
	imgErr   error
}

func (f *pagerFake) PageCount(string) (int, error) { return f.count, nil }

func (f *pagerFake) SplitPages(_ string, dir string, maxPages int) ([]string, error) {
	if f.splitErr != nil {
		return nil, f.splitErr
	}
	out := make([]string, 0, len(f.pages))
	for i, body := range f.pages {
		if maxPages > 0 && i >= maxPages {
			break
		}
		p := filepath.Join(dir, fmt.Sprintf("page_%d.pdf", i+1))
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *pagerFake) PageImages(string, int) ([]ports.PageImage, error) {
	return f.images, f.imgErr
}

type expansionFake struct {
	entries []ports.ArchiveEntry
	cleaned bool
}

func (e *expansionFake) Entries() []ports.ArchiveEntry { return e.entries }
func (e *expansionFake) Cleanup()                      { e.cleaned = true }

type expanderFake struct {
	exp *expansionFake
	err error
}

func (f *expanderFake) Expand(context.Context, string) (ports.Expansion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.exp, nil
}

type metricsFake struct {
	mu       sync.Mutex
	ticks    []domain.TickResult
	finished []error
	ocr      []bool
}

func (m *metricsFake) ObserveTick(_ time.Duration, r domain.TickResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, r)
}
func (m *metricsFake) StartDocument() {}
func (m *metricsFake) FinishDocument(_ string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, err)
}
func (m *metricsFake) ObserveQueueLag(time.Duration) {}
func (m *metricsFake) RecordOCRFallback(applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ocr = append(m.ocr, applied)
}

type lockFake struct {
	held     bool
	err      error
	acquired int
	released int
}

func (f *lockFake) Acquire(context.Context, string, time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *lockFake) Release(context.Context, string) error {
	f.released++
	return nil
}

// writeSized creates a file of size bytes under dir.
func writeSized(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const validDocumentJSON = `{"title":"Catering tender","institution":"City Hospital","full_text":"structured body","technical_requirements":["hot meals"]}`
