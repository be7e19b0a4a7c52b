// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package batcher coalesces concurrent entity queries into shared
// executions.
//
// Requests are grouped by entity kind and, with intelligent batching,
// by a hash of their batchable filter subset (sources, category, status,
// company). A batch executes on the first of:
//
//   - size: it holds MaxBatchSize requests
//   - priority: a high-priority request has waited PriorityThreshold
//   - timeout: the priority-weighted batch timer fires
//
// Each kind in a batch goes to its own registered executor. An executor
// error rejects only that kind's requests. Every request is resolved
// exactly once.
package batcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/metrics"
	"github.com/tomtom215/placemat/internal/models"
)

var (
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("batcher closed")

	// ErrNoExecutor is returned when no executor is registered for a kind.
	ErrNoExecutor = errors.New("no batch executor registered")

	// ErrMissingResult is returned when an executor omits a request id.
	ErrMissingResult = errors.New("batch executor returned no result for request")
)

// Priority orders batched requests. The zero value is PriorityMedium.
type Priority int

const (
	PriorityMedium Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// ParsePriority accepts high, medium or low. Anything else is medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Flush triggers, used as metric labels.
const (
	TriggerSize     = "size"
	TriggerPriority = "priority"
	TriggerTimeout  = "timeout"
	TriggerShutdown = "shutdown"
)

// Config controls batching.
type Config struct {
	Enabled            bool          `koanf:"enabled"`
	Intelligent        bool          `koanf:"intelligent"`
	MaxBatchSize       int           `koanf:"max_batch_size"`
	MaxWait            time.Duration `koanf:"max_wait"`
	PriorityThreshold  time.Duration `koanf:"priority_threshold"`
	MediumWaitFraction float64       `koanf:"medium_wait_fraction"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Intelligent:        true,
		MaxBatchSize:       10,
		MaxWait:            100 * time.Millisecond,
		PriorityThreshold:  50 * time.Millisecond,
		MediumWaitFraction: 0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.PriorityThreshold <= 0 {
		c.PriorityThreshold = d.PriorityThreshold
	}
	if c.MediumWaitFraction <= 0 || c.MediumWaitFraction > 1 {
		c.MediumWaitFraction = d.MediumWaitFraction
	}
	return c
}

// Result is one request's outcome.
type Result struct {
	Value any
	Err   error
}

// Request is a queued call waiting for its batch.
type Request struct {
	ID         string
	Kind       models.Kind
	Filter     models.Filter
	Priority   Priority
	EnqueuedAt time.Time

	// CorrelationID is the submitting call's id, empty when it had none.
	CorrelationID string

	done chan Result
	once sync.Once
}

func (r *Request) resolve(res Result) {
	r.once.Do(func() { r.done <- res })
}

// CorrelationIDs returns the distinct non-empty correlation ids of reqs in
// submission order.
func CorrelationIDs(reqs []*Request) []string {
	var ids []string
	for _, r := range reqs {
		if r.CorrelationID != "" && !slices.Contains(ids, r.CorrelationID) {
			ids = append(ids, r.CorrelationID)
		}
	}
	return ids
}

// WithCorrelationIDs returns ctx carrying the correlation ids of reqs,
// comma separated, so executor logs can be traced back to every caller.
func WithCorrelationIDs(ctx context.Context, reqs []*Request) context.Context {
	ids := CorrelationIDs(reqs)
	if len(ids) == 0 {
		return ctx
	}
	return logging.ContextWithCorrelationID(ctx, strings.Join(ids, ","))
}

// Executor runs a batch of same-kind requests and returns a result per
// request id. A returned error rejects every request in the batch.
type Executor func(ctx context.Context, requests []*Request) (map[string]Result, error)

type batch struct {
	key      string
	requests []*Request
	timer    *time.Timer
	deadline time.Time
	trigger  string
}

// Batcher queues requests and dispatches them to executors.
type Batcher struct {
	cfg Config
	ctx context.Context
	now func() time.Time

	mu        sync.Mutex
	executors map[models.Kind]Executor
	pending   map[string]*batch
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a batcher. Executors run with a context derived from
// context.Background that Close cancels, never with a caller's context.
func New(cfg Config) *Batcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		executors: make(map[models.Kind]Executor),
		pending:   make(map[string]*batch),
	}
}

// RegisterExecutor installs the executor for kind, replacing any previous one.
func (b *Batcher) RegisterExecutor(kind models.Kind, exec Executor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executors[kind] = exec
}

// Enabled reports whether requests are queued rather than run directly.
func (b *Batcher) Enabled() bool { return b.cfg.Enabled }

// Submit queues a request and waits for its result. When batching is
// disabled the executor runs immediately with a batch of one. If ctx ends
// first Submit returns ctx.Err(); the request still executes with its batch.
func (b *Batcher) Submit(ctx context.Context, kind models.Kind, filter models.Filter, priority Priority) (any, error) {
	req := &Request{
		ID:         uuid.NewString(),
		Kind:       kind,
		Filter:     filter,
		Priority:   priority,
		EnqueuedAt: b.now(),
		done:       make(chan Result, 1),

		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}

	if !b.cfg.Enabled {
		b.runKind(ctx, kind, []*Request{req})
		res := <-req.done
		return res.Value, res.Err
	}

	if err := b.enqueue(req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Key returns the batch key for a request.
func (b *Batcher) Key(kind models.Kind, filter models.Filter) string {
	if !b.cfg.Intelligent {
		return "default"
	}
	data, err := json.Marshal(filter.Normalize().Batchable())
	if err != nil {
		return kind.String()
	}
	sum := sha256.Sum256(data)
	return kind.String() + ":" + hex.EncodeToString(sum[:8])
}

func (b *Batcher) enqueue(req *Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	key := b.Key(req.Kind, req.Filter)
	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{key: key}
		b.pending[key] = bt
	}
	bt.requests = append(bt.requests, req)
	metrics.BatchPending.Inc()

	if len(bt.requests) >= b.cfg.MaxBatchSize {
		b.flushLocked(bt, TriggerSize)
		return nil
	}

	deadline, trigger := b.deadlineFor(bt, req)
	if bt.timer == nil || deadline.Before(bt.deadline) {
		bt.deadline, bt.trigger = deadline, trigger
		if bt.timer != nil {
			bt.timer.Stop()
		}
		wait := max(deadline.Sub(b.now()), 0)
		bt.timer = time.AfterFunc(wait, func() { b.expire(bt) })
	}
	return nil
}

// deadlineFor returns when bt must execute after req joins it. The batch
// timer is weighted by the highest priority queued; a high-priority
// request additionally escalates once it has waited PriorityThreshold.
func (b *Batcher) deadlineFor(bt *batch, req *Request) (time.Time, string) {
	opened := bt.requests[0].EnqueuedAt
	if req.Priority == PriorityHigh {
		escalate := req.EnqueuedAt.Add(b.cfg.PriorityThreshold)
		byTimer := opened.Add(b.cfg.PriorityThreshold)
		if byTimer.Before(escalate) {
			return byTimer, TriggerTimeout
		}
		return escalate, TriggerPriority
	}

	wait := b.cfg.MaxWait
	for _, r := range bt.requests {
		switch r.Priority {
		case PriorityHigh:
			wait = min(wait, b.cfg.PriorityThreshold)
		case PriorityMedium:
			wait = min(wait, time.Duration(float64(b.cfg.MaxWait)*b.cfg.MediumWaitFraction))
		}
	}
	return opened.Add(wait), TriggerTimeout
}

func (b *Batcher) expire(bt *batch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[bt.key] != bt {
		return
	}
	b.flushLocked(bt, bt.trigger)
}

// flushLocked detaches bt and runs it in the background.
func (b *Batcher) flushLocked(bt *batch, trigger string) {
	delete(b.pending, bt.key)
	if bt.timer != nil {
		bt.timer.Stop()
	}
	metrics.BatchPending.Sub(float64(len(bt.requests)))
	metrics.BatchFlushes.WithLabelValues(trigger).Inc()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.execute(bt.requests)
	}()
}

// execute dispatches each kind independently.
func (b *Batcher) execute(requests []*Request) {
	byKind := make(map[models.Kind][]*Request)
	var order []models.Kind
	for _, r := range requests {
		if _, seen := byKind[r.Kind]; !seen {
			order = append(order, r.Kind)
		}
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	var wg sync.WaitGroup
	for _, kind := range order {
		wg.Add(1)
		go func(kind models.Kind, reqs []*Request) {
			defer wg.Done()
			b.runKind(b.ctx, kind, reqs)
		}(kind, byKind[kind])
	}
	wg.Wait()
}

// runKind invokes the executor for one kind and resolves every request.
func (b *Batcher) runKind(ctx context.Context, kind models.Kind, reqs []*Request) {
	b.mu.Lock()
	exec, ok := b.executors[kind]
	b.mu.Unlock()

	if !ok {
		rejectAll(reqs, fmt.Errorf("%w: %s", ErrNoExecutor, kind))
		return
	}

	ctx = WithCorrelationIDs(ctx, reqs)
	metrics.RecordBatch(kind.String(), len(reqs))
	start := time.Now()
	results, err := safeExecute(ctx, exec, reqs)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("kind", kind.String()).
			Int("requests", len(reqs)).
			Msg("Batch execution failed")
		rejectAll(reqs, err)
		return
	}

	for _, r := range reqs {
		res, ok := results[r.ID]
		if !ok {
			res = Result{Err: fmt.Errorf("%w %s", ErrMissingResult, r.ID)}
		}
		r.resolve(res)
	}
	logging.Ctx(ctx).Debug().
		Str("kind", kind.String()).
		Int("requests", len(reqs)).
		Dur("elapsed", time.Since(start)).
		Msg("Batch executed")
}

func safeExecute(ctx context.Context, exec Executor, reqs []*Request) (results map[string]Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("batch executor panic: %v", p)
		}
	}()
	return exec(ctx, reqs)
}

func rejectAll(reqs []*Request, err error) {
	for _, r := range reqs {
		r.resolve(Result{Err: err})
	}
}

// Close flushes pending batches, waits for running executions and rejects
// later submissions.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	for _, bt := range b.pending {
		b.flushLocked(bt, TriggerShutdown)
	}
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
}
