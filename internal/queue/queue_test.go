package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/providers/prompt"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// memJobRepo is an in-memory JobRepository with the same conditional-update
// semantics as the Postgres implementation: a mutation only applies while
// the job is still in the expected pre-state.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*domain.GenerationJob)}
}

func (m *memJobRepo) put(job domain.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := job
	m.jobs[job.ID] = &copied
}

func (m *memJobRepo) get(id string) domain.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobRepo) Create(ctx context.Context, job *domain.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = copied.CreatedAt
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobRepo) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobRepo) sortedIDs() []string {
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func scopeMatches(job *domain.GenerationJob, scope domain.JobScope) bool {
	if scope.ModelID != "" && job.ModelID != scope.ModelID {
		return false
	}
	if scope.VariantRowID != "" && job.VariantRowID != scope.VariantRowID {
		return false
	}
	return true
}

func (m *memJobRepo) ClaimQueued(ctx context.Context, scope domain.JobScope, limit int) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []domain.GenerationJob
	for _, id := range m.sortedIDs() {
		if len(claimed) >= limit {
			break
		}
		job := m.jobs[id]
		if job.Status != domain.JobStatusQueued || job.PromptStatus != domain.PromptStatusCompleted {
			continue
		}
		if !scopeMatches(job, scope) {
			continue
		}
		job.Status = domain.JobStatusSubmitted
		job.UpdatedAt = time.Now()
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (m *memJobRepo) SetProviderRequestID(ctx context.Context, jobID, providerRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusSubmitted || job.ProviderRequestID != "" {
		return domain.ErrIllegalTransition
	}
	job.ProviderRequestID = providerRequestID
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) Advance(ctx context.Context, jobID string, from, to domain.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from || !domain.CanTransition(from, to) {
		return domain.ErrIllegalTransition
	}
	job.Status = to
	if errMsg != "" {
		job.Error = errMsg
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) ListInFlight(ctx context.Context, scope domain.JobScope, limit int) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GenerationJob
	for _, id := range m.sortedIDs() {
		if len(out) >= limit {
			break
		}
		job := m.jobs[id]
		switch job.Status {
		case domain.JobStatusSubmitted, domain.JobStatusRunning, domain.JobStatusSaving:
		default:
			continue
		}
		if job.ProviderRequestID == "" || !scopeMatches(job, scope) {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (m *memJobRepo) FailStuck(ctx context.Context, status domain.JobStatus, olderThan time.Duration, requireNoProviderID bool, errMsg string) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []domain.GenerationJob
	for _, id := range m.sortedIDs() {
		job := m.jobs[id]
		if job.Status != status {
			continue
		}
		if status == domain.JobStatusQueued && job.PromptStatus != domain.PromptStatusCompleted {
			continue
		}
		if requireNoProviderID && job.ProviderRequestID != "" {
			continue
		}
		ref := job.UpdatedAt
		if status == domain.JobStatusQueued {
			ref = job.CreatedAt
		}
		if !ref.Before(cutoff) {
			continue
		}
		job.Status = domain.JobStatusFailed
		job.Error = errMsg
		job.UpdatedAt = time.Now()
		failed = append(failed, *job)
	}
	return failed, nil
}

func (m *memJobRepo) FailStale(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []domain.GenerationJob
	for _, id := range m.sortedIDs() {
		job := m.jobs[id]
		if job.Status.Terminal() || !job.CreatedAt.Before(cutoff) {
			continue
		}
		job.Status = domain.JobStatusFailed
		job.Error = errMsg
		job.UpdatedAt = time.Now()
		failed = append(failed, *job)
	}
	return failed, nil
}

func (m *memJobRepo) FailDependents(ctx context.Context, promptJobID string, states []domain.JobStatus, errMsg string) ([]domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eligible := make(map[domain.JobStatus]struct{}, len(states))
	for _, s := range states {
		eligible[s] = struct{}{}
	}
	var failed []domain.GenerationJob
	for _, id := range m.sortedIDs() {
		job := m.jobs[id]
		if job.PromptJobID != promptJobID {
			continue
		}
		if _, ok := eligible[job.Status]; !ok {
			continue
		}
		job.Status = domain.JobStatusFailed
		job.PromptStatus = domain.PromptStatusFailed
		job.Error = errMsg
		job.UpdatedAt = time.Now()
		failed = append(failed, *job)
	}
	return failed, nil
}

func (m *memJobRepo) MarkPromptGenerating(ctx context.Context, promptJobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.sortedIDs() {
		job := m.jobs[id]
		if job.PromptJobID != promptJobID || job.Status.Terminal() {
			continue
		}
		if job.PromptStatus != domain.PromptStatusPending {
			continue
		}
		job.PromptStatus = domain.PromptStatusGenerating
		job.UpdatedAt = time.Now()
		count++
	}
	return count, nil
}

func (m *memJobRepo) CompletePrompt(ctx context.Context, promptJobID, promptText string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range m.sortedIDs() {
		job := m.jobs[id]
		if job.PromptJobID != promptJobID || job.Status.Terminal() {
			continue
		}
		if job.PromptStatus != domain.PromptStatusPending && job.PromptStatus != domain.PromptStatusGenerating {
			continue
		}
		job.Payload.Prompt = promptText
		job.PromptStatus = domain.PromptStatusCompleted
		job.UpdatedAt = time.Now()
		count++
	}
	return count, nil
}

func (m *memJobRepo) CountByRow(ctx context.Context, ref domain.RowRef) (domain.JobStatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts domain.JobStatusCounts
	for _, job := range m.jobs {
		if job.Owner() != ref {
			continue
		}
		switch job.Status {
		case domain.JobStatusQueued:
			counts.Queued++
		case domain.JobStatusSubmitted:
			counts.Submitted++
		case domain.JobStatusRunning:
			counts.Running++
		case domain.JobStatusSaving:
			counts.Saving++
		case domain.JobStatusSucceeded:
			counts.Succeeded++
		case domain.JobStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

var _ domain.JobRepository = (*memJobRepo)(nil)

// memPromptRepo is an in-memory PromptJobRepository.
type memPromptRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.PromptGenerationJob
}

func newMemPromptRepo() *memPromptRepo {
	return &memPromptRepo{jobs: make(map[string]*domain.PromptGenerationJob)}
}

func (m *memPromptRepo) put(job domain.PromptGenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := job
	m.jobs[job.ID] = &copied
}

func (m *memPromptRepo) get(id string) domain.PromptGenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memPromptRepo) Create(ctx context.Context, job *domain.PromptGenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memPromptRepo) GetByID(ctx context.Context, jobID string) (*domain.PromptGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memPromptRepo) ClaimNext(ctx context.Context) (*domain.PromptGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.PromptGenerationJob
	for _, job := range m.jobs {
		if job.Status != domain.PromptJobStatusQueued {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	best.Status = domain.PromptJobStatusProcessing
	best.StartedAt = &now
	copied := *best
	return &copied, nil
}

func (m *memPromptRepo) Complete(ctx context.Context, jobID, resultText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.PromptJobStatusProcessing {
		return domain.ErrIllegalTransition
	}
	now := time.Now()
	job.Status = domain.PromptJobStatusCompleted
	job.CompletedAt = &now
	if job.Operation == domain.PromptOperationEnhance {
		job.EnhancedPrompt = resultText
	} else {
		job.GeneratedPrompt = resultText
	}
	return nil
}

func (m *memPromptRepo) Fail(ctx context.Context, jobID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	job.Status = domain.PromptJobStatusFailed
	job.Error = errMsg
	job.CompletedAt = &now
	return nil
}

func (m *memPromptRepo) Requeue(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.PromptJobStatusProcessing || job.RetryCount >= job.MaxRetries {
		return domain.ErrIllegalTransition
	}
	job.Status = domain.PromptJobStatusQueued
	job.StartedAt = nil
	job.RetryCount++
	return nil
}

func (m *memPromptRepo) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrNotCancellable
	}
	now := time.Now()
	job.Status = domain.PromptJobStatusFailed
	job.Error = "cancelled by user"
	job.CompletedAt = &now
	return nil
}

func (m *memPromptRepo) ResetStuckProcessing(ctx context.Context, olderThan time.Duration) ([]domain.PromptGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var reset []domain.PromptGenerationJob
	for _, job := range m.jobs {
		if job.Status != domain.PromptJobStatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		if job.RetryCount >= job.MaxRetries {
			continue
		}
		job.Status = domain.PromptJobStatusQueued
		job.StartedAt = nil
		job.RetryCount++
		reset = append(reset, *job)
	}
	return reset, nil
}

func (m *memPromptRepo) FailStuckProcessing(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.PromptGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []domain.PromptGenerationJob
	for _, job := range m.jobs {
		if job.Status != domain.PromptJobStatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		if job.RetryCount < job.MaxRetries {
			continue
		}
		now := time.Now()
		job.Status = domain.PromptJobStatusFailed
		job.Error = errMsg
		job.CompletedAt = &now
		failed = append(failed, *job)
	}
	return failed, nil
}

func (m *memPromptRepo) BoostStuckQueued(ctx context.Context, olderThan time.Duration, step int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	boosted := 0
	for _, job := range m.jobs {
		if job.Status != domain.PromptJobStatusQueued || !job.CreatedAt.Before(cutoff) {
			continue
		}
		if job.Priority >= domain.PriorityMax {
			continue
		}
		job.Priority += step
		if job.Priority > domain.PriorityMax {
			job.Priority = domain.PriorityMax
		}
		boosted++
	}
	return boosted, nil
}

func (m *memPromptRepo) FailStuckQueued(ctx context.Context, olderThan time.Duration, errMsg string) ([]domain.PromptGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var failed []domain.PromptGenerationJob
	for _, job := range m.jobs {
		if job.Status != domain.PromptJobStatusQueued || !job.CreatedAt.Before(cutoff) {
			continue
		}
		now := time.Now()
		job.Status = domain.PromptJobStatusFailed
		job.Error = errMsg
		job.CompletedAt = &now
		failed = append(failed, *job)
	}
	return failed, nil
}

func (m *memPromptRepo) Stats(ctx context.Context) (*domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.QueueStats{}
	for _, job := range m.jobs {
		switch job.Status {
		case domain.PromptJobStatusQueued:
			stats.TotalQueued++
		case domain.PromptJobStatusProcessing:
			stats.TotalProcessing++
		case domain.PromptJobStatusCompleted:
			stats.TotalCompleted++
		case domain.PromptJobStatusFailed:
			stats.TotalFailed++
		}
	}
	return stats, nil
}

var _ domain.PromptJobRepository = (*memPromptRepo)(nil)

// memRowRepo records row status writes.
type memRowRepo struct {
	mu       sync.Mutex
	rows     map[string]*domain.Row
	statuses map[string]domain.RowStatus
}

func newMemRowRepo() *memRowRepo {
	return &memRowRepo{
		rows:     make(map[string]*domain.Row),
		statuses: make(map[string]domain.RowStatus),
	}
}

func (m *memRowRepo) put(row domain.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := row
	m.rows[row.ID] = &copied
}

func (m *memRowRepo) statusOf(id string) domain.RowStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

func (m *memRowRepo) GetRow(ctx context.Context, ref domain.RowRef) (*domain.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[ref.ID()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memRowRepo) UpdateRowStatus(ctx context.Context, ref domain.RowRef, status domain.RowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[ref.ID()] = status
	if row, ok := m.rows[ref.ID()]; ok {
		row.Status = status
	}
	return nil
}

var _ domain.RowRepository = (*memRowRepo)(nil)

type memModelRepo struct {
	models map[string]*domain.Model
}

func (m *memModelRepo) GetModel(ctx context.Context, modelID string) (*domain.Model, error) {
	model, ok := m.models[modelID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *model
	return &copied, nil
}

var _ domain.ModelRepository = (*memModelRepo)(nil)

// fakeImageProvider stubs the provider with func fields.
type fakeImageProvider struct {
	submit func(context.Context, image.SubmitRequest) (string, error)
	poll   func(context.Context, string) (*image.PollResult, error)
}

func (f *fakeImageProvider) Submit(ctx context.Context, req image.SubmitRequest) (string, error) {
	if f.submit != nil {
		return f.submit(ctx, req)
	}
	return "req-" + req.RequestTag, nil
}

func (f *fakeImageProvider) Poll(ctx context.Context, providerRequestID string) (*image.PollResult, error) {
	if f.poll != nil {
		return f.poll(ctx, providerRequestID)
	}
	return &image.PollResult{Stage: image.StageRunning}, nil
}

var _ image.Provider = (*fakeImageProvider)(nil)

// fakeSigner signs without cryptography.
type fakeSigner struct {
	err func(path string) error
}

func (f *fakeSigner) Sign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if f.err != nil {
		if err := f.err(path); err != nil {
			return "", err
		}
	}
	return "https://signed.test/" + path, nil
}

// fakePromptProvider stubs the LLM provider.
type fakePromptProvider struct {
	generate func(context.Context, prompt.GenerateRequest) (string, error)
	enhance  func(context.Context, prompt.EnhanceRequest) (string, error)
}

func (f *fakePromptProvider) Generate(ctx context.Context, req prompt.GenerateRequest) (string, error) {
	if f.generate != nil {
		return f.generate(ctx, req)
	}
	return "generated prompt", nil
}

func (f *fakePromptProvider) Enhance(ctx context.Context, req prompt.EnhanceRequest) (string, error) {
	if f.enhance != nil {
		return f.enhance(ctx, req)
	}
	return "enhanced prompt", nil
}

var _ prompt.Provider = (*fakePromptProvider)(nil)

// recordingTrigger records enqueued scopes.
type recordingTrigger struct {
	mu     sync.Mutex
	scopes []domain.JobScope
}

func (t *recordingTrigger) Enqueue(ctx context.Context, scope domain.JobScope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scopes = append(t.scopes, scope)
}

func (t *recordingTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.scopes)
}
