package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type docStoreFake struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newDocStoreFake(docs ...*domain.Document) *docStoreFake {
	f := &docStoreFake{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *docStoreFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *docStoreFake) GetByPath(_ context.Context, path, kbCode string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.Path == path && d.KBCode == kbCode && d.DeletedAt == nil {
			copyDoc := *d
			return &copyDoc, nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get by path", fmt.Errorf("%s", path))
}

func (f *docStoreFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get by id", fmt.Errorf("%s", id))
	}
	copyDoc := *d
	return &copyDoc, nil
}

func (f *docStoreFake) ListByKB(_ context.Context, kbCode string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Document, 0, len(f.docs))
	for _, d := range f.docs {
		if kbCode == "" || d.KBCode == kbCode {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *docStoreFake) AdvanceStatus(_ context.Context, id string, from, to domain.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "advance status", fmt.Errorf("%s", id))
	}
	if d.Status != from {
		return fmt.Errorf("conditional update lost: status is %s, expected %s", d.Status, from)
	}
	d.Status = to
	return nil
}

func (f *docStoreFake) ResetForReparse(_ context.Context, id string, state domain.FileState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "reset", fmt.Errorf("%s", id))
	}
	d.Status = domain.StatusUnparsed
	d.Hash = state.Hash
	d.Size = state.Size
	d.ModifiedAt = state.ModifiedAt
	return nil
}

func (f *docStoreFake) MarkCanceled(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.Canceled = true
		return nil
	}
	return domain.WrapError(domain.ErrDocumentNotFound, "cancel", fmt.Errorf("%s", id))
}

func (f *docStoreFake) SoftDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		now := time.Now().UTC()
		d.DeletedAt = &now
		return nil
	}
	return domain.WrapError(domain.ErrDocumentNotFound, "soft delete", fmt.Errorf("%s", id))
}

type batchStoreFake struct {
	mu      sync.Mutex
	batches map[string]*domain.ParseBatch
}

func newBatchStoreFake(batches ...*domain.ParseBatch) *batchStoreFake {
	f := &batchStoreFake{batches: map[string]*domain.ParseBatch{}}
	for _, b := range batches {
		f.batches[b.ID] = b
	}
	return f
}

func (f *batchStoreFake) CreateActive(_ context.Context, batch *domain.ParseBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		if b.DocumentID == batch.DocumentID && !b.Status.Terminal() {
			return domain.WrapError(domain.ErrBatchConflict, "create batch", fmt.Errorf("active batch %s", b.ID))
		}
	}
	f.batches[batch.ID] = batch
	return nil
}

func (f *batchStoreFake) GetByID(_ context.Context, batchID string) (*domain.ParseBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("%s", batchID))
	}
	copyBatch := *b
	return &copyBatch, nil
}

func (f *batchStoreFake) GetActiveByDocument(_ context.Context, documentID string) (*domain.ParseBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.batches {
		if b.DocumentID == documentID && !b.Status.Terminal() {
			copyBatch := *b
			return &copyBatch, nil
		}
	}
	return nil, domain.WrapError(domain.ErrBatchNotFound, "get active batch", fmt.Errorf("%s", documentID))
}

func (f *batchStoreFake) GetLatestByDocument(_ context.Context, documentID string) (*domain.ParseBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.ParseBatch
	for _, b := range f.batches {
		if b.DocumentID != documentID {
			continue
		}
		if latest == nil || b.SubmittedAt.After(latest.SubmittedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, domain.WrapError(domain.ErrBatchNotFound, "get latest batch", fmt.Errorf("%s", documentID))
	}
	copyBatch := *latest
	return &copyBatch, nil
}

func (f *batchStoreFake) MarkRetrieved(_ context.Context, batchID string, retrievedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[batchID]; ok {
		b.Status = domain.BatchRetrieved
		b.RetrievedAt = &retrievedAt
		return nil
	}
	return domain.WrapError(domain.ErrBatchNotFound, "mark retrieved", fmt.Errorf("%s", batchID))
}

func (f *batchStoreFake) Complete(_ context.Context, batchID, markdownPath, assetsPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[batchID]; ok {
		b.Status = domain.BatchCompleted
		b.MarkdownPath = markdownPath
		b.AssetsPath = assetsPath
		return nil
	}
	return domain.WrapError(domain.ErrBatchNotFound, "complete batch", fmt.Errorf("%s", batchID))
}

func (f *batchStoreFake) Fail(_ context.Context, batchID, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[batchID]; ok {
		b.Status = domain.BatchFailed
		b.Error = errMessage
		return nil
	}
	return domain.WrapError(domain.ErrBatchNotFound, "fail batch", fmt.Errorf("%s", batchID))
}

type jobStoreFake struct {
	mu       sync.Mutex
	seq      int
	jobs     map[string]*domain.RetrievalJob
	attempts []domain.RetrievalAttempt
}

func newJobStoreFake(jobs ...*domain.RetrievalJob) *jobStoreFake {
	f := &jobStoreFake{jobs: map[string]*domain.RetrievalJob{}}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *jobStoreFake) Create(_ context.Context, job *domain.RetrievalJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		f.seq++
		job.ID = fmt.Sprintf("job-%d", f.seq)
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *jobStoreFake) GetByBatch(_ context.Context, batchID string) (*domain.RetrievalJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.BatchID == batchID {
			copyJob := *j
			return &copyJob, nil
		}
	}
	return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("%s", batchID))
}

func (f *jobStoreFake) ClaimDue(_ context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.RetrievalJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RetrievalJob, 0)
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		j := f.jobs[id]
		claimable := j.Status == domain.JobScheduled ||
			(j.Status == domain.JobInProgress && j.ClaimedAt != nil && now.Sub(*j.ClaimedAt) > staleAfter)
		if !claimable || j.NextRun.After(now) {
			continue
		}
		j.Status = domain.JobInProgress
		j.Attempt++
		claimed := now
		j.ClaimedAt = &claimed
		copyJob := *j
		out = append(out, copyJob)
	}
	return out, nil
}

func (f *jobStoreFake) Reschedule(_ context.Context, jobID string, nextRun time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = domain.JobScheduled
		j.NextRun = nextRun
		j.LastError = lastError
		j.ClaimedAt = nil
		return nil
	}
	return domain.WrapError(domain.ErrJobNotFound, "reschedule", fmt.Errorf("%s", jobID))
}

func (f *jobStoreFake) Complete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = domain.JobCompleted
		return nil
	}
	return domain.WrapError(domain.ErrJobNotFound, "complete", fmt.Errorf("%s", jobID))
}

func (f *jobStoreFake) Fail(_ context.Context, jobID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		j.Status = domain.JobFailed
		j.LastError = lastError
		return nil
	}
	return domain.WrapError(domain.ErrJobNotFound, "fail", fmt.Errorf("%s", jobID))
}

func (f *jobStoreFake) AppendAttempt(_ context.Context, attempt *domain.RetrievalAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *attempt)
	return nil
}

// parserFake scripts provider behavior per call.
type parserFake struct {
	mu sync.Mutex

	submitID  string
	submitErr error
	submits   int

	pollResults []ports.PollResult
	pollErrs    []error
	polls       int

	fetchMarkdown string
	fetchAssets   string
	fetchErr      error
	fetches       int
}

func (f *parserFake) Submit(_ context.Context, _ string, content io.Reader, _ domain.ParseFeatures) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	_, _ = io.Copy(io.Discard, content)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *parserFake) Poll(_ context.Context, _ string) (ports.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	var result ports.PollResult
	if i < len(f.pollResults) {
		result = f.pollResults[i]
	}
	var err error
	if i < len(f.pollErrs) {
		err = f.pollErrs[i]
	}
	return result, err
}

func (f *parserFake) Fetch(_ context.Context, _, _ string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return "", "", f.fetchErr
	}
	return f.fetchMarkdown, f.fetchAssets, nil
}

type storageFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newStorageFake() *storageFake {
	return &storageFake{files: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type chunkStoreFake struct {
	mu     sync.Mutex
	byDoc  map[string][]domain.Chunk
	writes []string
}

func newChunkStoreFake() *chunkStoreFake {
	return &chunkStoreFake{byDoc: map[string][]domain.Chunk{}}
}

func (f *chunkStoreFake) ReplaceAll(_ context.Context, documentID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byDoc[documentID] = append([]domain.Chunk(nil), chunks...)
	f.writes = append(f.writes, "replace:"+documentID)
	return nil
}

func (f *chunkStoreFake) ListByDocument(_ context.Context, documentID string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Chunk(nil), f.byDoc[documentID]...), nil
}

func (f *chunkStoreFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byDoc, documentID)
	f.writes = append(f.writes, "delete:"+documentID)
	return nil
}

type vectorIndexFake struct {
	mu        sync.Mutex
	byDoc     map[string][]domain.Chunk
	ops       []string
	hits      []domain.RankedChunk
	err       error
	deleteErr map[string]error
}

func newVectorIndexFake() *vectorIndexFake {
	return &vectorIndexFake{byDoc: map[string][]domain.Chunk{}}
}

func (f *vectorIndexFake) Upsert(_ context.Context, chunks []domain.Chunk, _ [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range chunks {
		f.byDoc[c.DocumentID] = append(f.byDoc[c.DocumentID], c)
	}
	f.ops = append(f.ops, "upsert")
	return nil
}

func (f *vectorIndexFake) Query(_ context.Context, _ []float32, _ int, _ domain.SearchScope) ([]domain.RankedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RankedChunk(nil), f.hits...), nil
}

func (f *vectorIndexFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[documentID]; err != nil {
		return err
	}
	delete(f.byDoc, documentID)
	f.ops = append(f.ops, "delete")
	return nil
}

type lexicalIndexFake struct {
	mu    sync.Mutex
	byDoc map[string][]domain.Chunk
	ops   []string
	hits  []domain.RankedChunk
	err   error
}

func newLexicalIndexFake() *lexicalIndexFake {
	return &lexicalIndexFake{byDoc: map[string][]domain.Chunk{}}
}

func (f *lexicalIndexFake) Index(_ context.Context, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, c := range chunks {
		f.byDoc[c.DocumentID] = append(f.byDoc[c.DocumentID], c)
	}
	f.ops = append(f.ops, "index")
	return nil
}

func (f *lexicalIndexFake) Query(_ context.Context, _ string, _ int, _ domain.SearchScope) ([]domain.RankedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.RankedChunk(nil), f.hits...), nil
}

func (f *lexicalIndexFake) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byDoc, documentID)
	f.ops = append(f.ops, "delete")
	return nil
}

type embedderFake struct {
	err error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), float32(strings.Count(text, " "))}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 0}, nil
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *queueFake) PublishProcessDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeProcessDocument(context.Context, func(context.Context, string) error) error {
	return nil
}

type requestStoreFake struct {
	mu   sync.Mutex
	reqs map[string]*domain.ProcessingRequest
}

func newRequestStoreFake() *requestStoreFake {
	return &requestStoreFake{reqs: map[string]*domain.ProcessingRequest{}}
}

func (f *requestStoreFake) Create(_ context.Context, req *domain.ProcessingRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs[req.ID] = req
	return nil
}

func (f *requestStoreFake) GetByID(_ context.Context, id string) (*domain.ProcessingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.reqs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("%s", id))
	}
	copyReq := *req
	return &copyReq, nil
}

type chunkerFake struct {
	pieces []domain.ChunkPiece
}

func (f *chunkerFake) Split(string) []domain.ChunkPiece {
	return f.pieces
}

type extractorFake struct {
	text      string
	err       error
	supported map[string]bool
}

func (f *extractorFake) Extract(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *extractorFake) Supports(fileType string) bool {
	if f.supported == nil {
		return true
	}
	return f.supported[fileType]
}
