package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"feedback-insights/internal/middleware"
	"feedback-insights/internal/models"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrAIDisabled is returned when insight extraction is not enabled for an environment.
	ErrAIDisabled = errors.New("ai features are disabled for this environment")

	// ErrProcessorStopped is returned by SubmitJob and Enqueue before Start or after Shutdown.
	ErrProcessorStopped = errors.New("document processor is not running")
)

const (
	defaultJobTimeout = 2 * time.Minute

	// Pending documents untouched for this long were queued by a process that
	// is gone. Must stay well above defaultJobTimeout.
	defaultStaleAfter = 10 * time.Minute
)

// ProcessingJob asks the processor to extract and resolve the insights of a document.
type ProcessingJob struct {
	DocumentID    string
	EnvironmentID string
}

// ProcessingResult summarises one processed document.
type ProcessingResult struct {
	DocumentID  string        `json:"document_id"`
	Sentiment   string        `json:"sentiment"`
	Resolutions []*Resolution `json:"resolutions"`
}

// DocumentProcessor runs extraction and insight resolution for documents.
// Jobs wait in a bounded queue and are executed on an ants worker pool.
type DocumentProcessor struct {
	docs      DocumentRepository
	extractor Extractor
	resolver  Resolver
	sink      InvalidationSink
	allowed   func(environmentID string) bool

	workers    int
	jobTimeout time.Duration
	staleAfter time.Duration
	jobs       chan ProcessingJob
	pool       *ants.Pool
	wg         sync.WaitGroup

	mu         sync.RWMutex
	running    bool
	stop       chan struct{}
	dispatched chan struct{}
}

// NewDocumentProcessor creates a processor. sink receives a document event
// whenever a document changes status; nil discards them. allowed reports
// whether AI extraction may run for an environment; nil allows every environment.
func NewDocumentProcessor(
	docs DocumentRepository,
	extractor Extractor,
	resolver Resolver,
	sink InvalidationSink,
	allowed func(environmentID string) bool,
	numWorkers int,
	queueSize int,
) *DocumentProcessor {
	if sink == nil {
		sink = discardSink{}
	}
	if allowed == nil {
		allowed = func(string) bool { return true }
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	return &DocumentProcessor{
		docs:       docs,
		extractor:  extractor,
		resolver:   resolver,
		sink:       sink,
		allowed:    allowed,
		workers:    numWorkers,
		jobTimeout: defaultJobTimeout,
		staleAfter: defaultStaleAfter,
		jobs:       make(chan ProcessingJob, queueSize),
	}
}

// Start creates the worker pool and begins draining the queue.
func (p *DocumentProcessor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	pool, err := ants.NewPool(p.workers, ants.WithPanicHandler(func(v interface{}) {
		log.Printf("🛑 Document processing panicked: %v", v)
	}))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	p.pool = pool
	p.stop = make(chan struct{})
	p.dispatched = make(chan struct{})
	p.running = true

	go p.dispatch()

	log.Printf("✓ Document processor started with %d workers", p.workers)
	return nil
}

func (p *DocumentProcessor) dispatch() {
	defer close(p.dispatched)

	for {
		select {
		case <-p.stop:
			return
		case job := <-p.jobs:
			p.wg.Add(1)
			err := p.pool.Submit(func() {
				defer p.wg.Done()
				p.runJob(job)
			})
			if err != nil {
				p.wg.Done()
				log.Printf("⚠️  Failed to schedule document %s: %v", job.DocumentID, err)
			}
		}
	}
}

func (p *DocumentProcessor) runJob(job ProcessingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	result, err := p.ProcessDocument(ctx, job.DocumentID)
	switch {
	case errors.Is(err, ErrAIDisabled):
		log.Printf("  Skipped document %s: %v", job.DocumentID, err)
	case err != nil:
		log.Printf("  Document %s failed: %v", job.DocumentID, err)
	default:
		log.Printf("  Processed document %s (%d insights)", job.DocumentID, len(result.Resolutions))
	}
}

// SubmitJob queues a document for processing. It blocks while the queue is
// full until ctx is done.
func (p *DocumentProcessor) SubmitJob(ctx context.Context, job ProcessingJob) error {
	p.mu.RLock()
	running, stop := p.running, p.stop
	p.mu.RUnlock()

	if !running {
		return ErrProcessorStopped
	}

	select {
	case p.jobs <- job:
		return nil
	case <-stop:
		return ErrProcessorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a job and marks the document failed when it cannot be
// queued, so Reprocess picks it up later.
func (p *DocumentProcessor) Enqueue(ctx context.Context, job ProcessingJob) error {
	err := p.SubmitJob(ctx, job)
	if err == nil {
		return nil
	}

	p.markFailed(ctx, job.EnvironmentID, job.DocumentID, fmt.Errorf("not queued: %w", err))

	return err
}

// ProcessDocument extracts the sentiment and candidate insights of a document
// and resolves every candidate. The document is marked processed on success
// and failed, with the error text, otherwise.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, documentID string) (*ProcessingResult, error) {
	ctx, span := middleware.StartSpan(ctx, "DocumentProcessor.ProcessDocument",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	if !p.allowed(doc.EnvironmentID) {
		return nil, fmt.Errorf("environment %s: %w", doc.EnvironmentID, ErrAIDisabled)
	}

	extraction, err := p.extractor.Extract(ctx, doc.Text)
	if err != nil {
		return nil, p.fail(ctx, doc, err)
	}

	result := &ProcessingResult{
		DocumentID:  doc.ID,
		Sentiment:   string(extraction.Sentiment),
		Resolutions: make([]*Resolution, 0, len(extraction.Candidates)),
	}

	for _, candidate := range extraction.Candidates {
		resolution, err := p.resolver.ResolveInsight(ctx, doc.EnvironmentID, doc.ID, candidate)
		if err != nil {
			return nil, p.fail(ctx, doc, err)
		}
		result.Resolutions = append(result.Resolutions, resolution)
	}

	if err := p.docs.MarkProcessed(ctx, doc.ID, extraction.Sentiment); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	p.notify(ctx, doc.EnvironmentID, doc.ID)

	middleware.AddSpanEvent(ctx, "document_processed",
		attribute.Int("insights", len(result.Resolutions)),
	)
	return result, nil
}

func (p *DocumentProcessor) fail(ctx context.Context, doc *models.Document, cause error) error {
	middleware.AddSpanError(ctx, cause)
	p.markFailed(ctx, doc.EnvironmentID, doc.ID, cause)
	return cause
}

// markFailed records cause on the document. It outlives ctx, which may be
// the reason for the failure.
func (p *DocumentProcessor) markFailed(ctx context.Context, environmentID, documentID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.docs.MarkFailed(ctx, documentID, cause.Error()); err != nil {
		log.Printf("⚠️  Failed to mark document %s as failed: %v", documentID, err)
		return
	}
	p.notify(ctx, environmentID, documentID)
}

// notify publishes a document event. Status changes are already committed,
// so a sink failure is only logged.
func (p *DocumentProcessor) notify(ctx context.Context, environmentID, documentID string) {
	if err := p.sink.Revalidate(ctx, models.NewDocumentEvent(environmentID, documentID)); err != nil {
		log.Printf("⚠️  Failed to publish document event for %s: %v", documentID, err)
	}
}

// Retryable lists up to limit documents of an environment that need another
// run: failed ones first, then pending ones nobody has touched for a while.
func (p *DocumentProcessor) Retryable(ctx context.Context, environmentID string, limit int) ([]*models.Document, error) {
	docs, err := p.docs.ListByStatus(ctx, environmentID, models.StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	if len(docs) >= limit {
		return docs, nil
	}

	stale, err := p.docs.ListStalePending(ctx, environmentID, time.Now().Add(-p.staleAfter), limit-len(docs))
	if err != nil {
		return nil, err
	}
	return append(docs, stale...), nil
}

// Reprocess puts up to limit failed or stale pending documents of an
// environment back into the queue and returns how many were queued. A
// document that cannot be queued is left failed.
func (p *DocumentProcessor) Reprocess(ctx context.Context, environmentID string, limit int) (int, error) {
	if !p.allowed(environmentID) {
		return 0, fmt.Errorf("environment %s: %w", environmentID, ErrAIDisabled)
	}

	docs, err := p.Retryable(ctx, environmentID, limit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, doc := range docs {
		// Marked before submitting: a worker may finish the job before
		// SubmitJob returns, and its status must not be overwritten.
		if err := p.docs.MarkPending(ctx, doc.ID); err != nil {
			return queued, err
		}
		p.notify(ctx, doc.EnvironmentID, doc.ID)

		if err := p.Enqueue(ctx, ProcessingJob{DocumentID: doc.ID, EnvironmentID: doc.EnvironmentID}); err != nil {
			return queued, err
		}
		queued++
	}

	return queued, nil
}

// Shutdown stops taking jobs from the queue and waits for running jobs.
// Documents still queued are marked failed so Reprocess picks them up.
func (p *DocumentProcessor) Shutdown() {
	log.Println("🛑 Shutting down document processor...")

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	<-p.dispatched
	p.wg.Wait()
	p.pool.Release()

	if n := p.drain(); n > 0 {
		log.Printf("⚠️  %d queued documents marked failed for reprocessing", n)
	}
	log.Println("✓ Document processor shutdown complete")
}

func (p *DocumentProcessor) drain() int {
	ctx := context.Background()

	n := 0
	for {
		select {
		case job := <-p.jobs:
			p.markFailed(ctx, job.EnvironmentID, job.DocumentID, ErrProcessorStopped)
			n++
		default:
			return n
		}
	}
}

// GetQueueLength returns the number of jobs waiting for a worker.
func (p *DocumentProcessor) GetQueueLength() int {
	return len(p.jobs)
}
