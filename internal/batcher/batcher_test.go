// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

package batcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/placemat/internal/logging"
	"github.com/tomtom215/placemat/internal/models"
)

// echoExecutor answers every request with "result-<search>" and records
// each invocation's batch size.
type echoExecutor struct {
	mu    sync.Mutex
	sizes []int
}

func (e *echoExecutor) run(_ context.Context, reqs []*Request) (map[string]Result, error) {
	e.mu.Lock()
	e.sizes = append(e.sizes, len(reqs))
	e.mu.Unlock()
	out := make(map[string]Result, len(reqs))
	for _, r := range reqs {
		out[r.ID] = Result{Value: "result-" + r.Filter.Search}
	}
	return out, nil
}

func (e *echoExecutor) invocations() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.sizes...)
}

func submitAll(t *testing.T, b *Batcher, kind models.Kind, filters []models.Filter, p Priority) ([]any, []error) {
	t.Helper()
	values := make([]any, len(filters))
	errs := make([]error, len(filters))
	var wg sync.WaitGroup
	for i, f := range filters {
		wg.Add(1)
		go func(i int, f models.Filter) {
			defer wg.Done()
			values[i], errs[i] = b.Submit(context.Background(), kind, f, p)
		}(i, f)
	}
	wg.Wait()
	return values, errs
}

func waitPending(t *testing.T, b *Batcher, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		queued := 0
		for _, bt := range b.pending {
			queued += len(bt.requests)
		}
		b.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued requests", n)
}

func TestBatcher_Coalesces(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: true, MaxBatchSize: 100, MaxWait: 300 * time.Millisecond})
	defer b.Close()
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindContacts, exec.run)

	filters := make([]models.Filter, 5)
	for i := range filters {
		filters[i] = models.Filter{Status: "active", Search: fmt.Sprintf("q%d", i)}
	}
	values, errs := submitAll(t, b, models.KindContacts, filters, PriorityLow)

	for i := range filters {
		if errs[i] != nil {
			t.Fatalf("request %d: unexpected error %v", i, errs[i])
		}
		if want := fmt.Sprintf("result-q%d", i); values[i] != want {
			t.Errorf("request %d got %v, want %s", i, values[i], want)
		}
	}
	if got := exec.invocations(); len(got) != 1 || got[0] != 5 {
		t.Errorf("executor invocations = %v, want one batch of 5", got)
	}
}

func TestBatcher_CorrelationIDsReachExecutor(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: true, MaxBatchSize: 3, MaxWait: time.Hour, MediumWaitFraction: 1})
	defer b.Close()

	var (
		mu      sync.Mutex
		ctxID   string
		reqIDs  []string
		batched int
	)
	b.RegisterExecutor(models.KindContacts, func(ctx context.Context, reqs []*Request) (map[string]Result, error) {
		mu.Lock()
		defer mu.Unlock()
		ctxID = logging.CorrelationIDFromContext(ctx)
		reqIDs = CorrelationIDs(reqs)
		batched = len(reqs)
		out := make(map[string]Result, len(reqs))
		for _, r := range reqs {
			out[r.ID] = Result{Value: r.CorrelationID}
		}
		return out, nil
	})

	ids := []string{"aaaa1111", "", "bbbb2222"}
	values := make([]any, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		ctx := context.Background()
		if id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		}
		wg.Add(1)
		go func(i int, ctx context.Context) {
			defer wg.Done()
			values[i], _ = b.Submit(ctx, models.KindContacts, models.Filter{Status: "active"}, PriorityLow)
		}(i, ctx)
	}
	wg.Wait()

	for i, id := range ids {
		if values[i] != id {
			t.Errorf("request %d carried correlation id %v, want %q", i, values[i], id)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if batched != 3 {
		t.Fatalf("batch size = %d, want 3", batched)
	}
	if len(reqIDs) != 2 || !slices.Contains(reqIDs, "aaaa1111") || !slices.Contains(reqIDs, "bbbb2222") {
		t.Errorf("CorrelationIDs = %v, want both caller ids", reqIDs)
	}
	if ctxID != strings.Join(reqIDs, ",") {
		t.Errorf("executor context correlation id = %q, want %q", ctxID, strings.Join(reqIDs, ","))
	}
}

func TestBatcher_IncompatibleFiltersSplit(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: true, MaxBatchSize: 100, MaxWait: 200 * time.Millisecond})
	defer b.Close()
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindProjects, exec.run)

	filters := []models.Filter{
		{Status: "active"},
		{Status: "active", Offset: 20},
		{Status: "completed"},
	}
	_, errs := submitAll(t, b, models.KindProjects, filters, PriorityLow)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if got := exec.invocations(); len(got) != 2 {
		t.Errorf("expected 2 batches for 2 distinct status values, got %v", got)
	}
}

func TestBatcher_SizeTrigger(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: true, MaxBatchSize: 3, MaxWait: 10 * time.Second})
	defer b.Close()
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindContacts, exec.run)

	start := time.Now()
	_, errs := submitAll(t, b, models.KindContacts, make([]models.Filter, 3), PriorityLow)
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("full batch waited %v, expected immediate execution", elapsed)
	}
}

func TestBatcher_HighPriorityEscalates(t *testing.T) {
	b := New(Config{
		Enabled:           true,
		Intelligent:       true,
		MaxBatchSize:      100,
		MaxWait:           5 * time.Second,
		PriorityThreshold: 20 * time.Millisecond,
	})
	defer b.Close()
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindFinance, exec.run)

	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), models.KindFinance, models.Filter{}, PriorityLow)
		done <- err
	}()
	waitPending(t, b, 1)

	start := time.Now()
	if _, err := b.Submit(context.Background(), models.KindFinance, models.Filter{}, PriorityHigh); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("high-priority request waited %v", elapsed)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("low-priority request in the same batch was not released")
	}
}

func TestBatcher_KindFailureIsolated(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: false, MaxBatchSize: 100, MaxWait: 100 * time.Millisecond})
	defer b.Close()

	boom := errors.New("contacts down")
	var contactCalls, projectCalls atomic.Int32
	b.RegisterExecutor(models.KindContacts, func(context.Context, []*Request) (map[string]Result, error) {
		contactCalls.Add(1)
		return nil, boom
	})
	projects := &echoExecutor{}
	b.RegisterExecutor(models.KindProjects, func(ctx context.Context, reqs []*Request) (map[string]Result, error) {
		projectCalls.Add(1)
		return projects.run(ctx, reqs)
	})

	var wg sync.WaitGroup
	var contactErr, projectErr error
	var projectVal any
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, contactErr = b.Submit(context.Background(), models.KindContacts, models.Filter{}, PriorityLow)
	}()
	go func() {
		defer wg.Done()
		projectVal, projectErr = b.Submit(context.Background(), models.KindProjects, models.Filter{Search: "p"}, PriorityLow)
	}()
	wg.Wait()

	if !errors.Is(contactErr, boom) {
		t.Errorf("contacts error = %v, want %v", contactErr, boom)
	}
	if projectErr != nil || projectVal != "result-p" {
		t.Errorf("projects = %v, %v; want result-p", projectVal, projectErr)
	}
	if contactCalls.Load() != 1 || projectCalls.Load() != 1 {
		t.Errorf("executor calls contacts=%d projects=%d, want 1 each", contactCalls.Load(), projectCalls.Load())
	}
}

func TestBatcher_ExecutorOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		exec    Executor
		wantErr error
	}{
		{
			name: "missing result",
			exec: func(context.Context, []*Request) (map[string]Result, error) {
				return map[string]Result{}, nil
			},
			wantErr: ErrMissingResult,
		},
		{
			name: "panic",
			exec: func(context.Context, []*Request) (map[string]Result, error) {
				panic("boom")
			},
		},
		{
			name: "per-request error",
			exec: func(_ context.Context, reqs []*Request) (map[string]Result, error) {
				return map[string]Result{reqs[0].ID: {Err: context.DeadlineExceeded}}, nil
			},
			wantErr: context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(Config{Enabled: true, MaxWait: 10 * time.Millisecond})
			defer b.Close()
			b.RegisterExecutor(models.KindContacts, tt.exec)

			_, err := b.Submit(context.Background(), models.KindContacts, models.Filter{}, PriorityMedium)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatcher_NoExecutor(t *testing.T) {
	b := New(Config{Enabled: true, MaxWait: 10 * time.Millisecond})
	defer b.Close()
	if _, err := b.Submit(context.Background(), models.KindFinance, models.Filter{}, PriorityHigh); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("error = %v, want ErrNoExecutor", err)
	}
}

func TestBatcher_Disabled(t *testing.T) {
	b := New(Config{Enabled: false, MaxWait: time.Hour})
	defer b.Close()
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindContacts, exec.run)

	v, err := b.Submit(context.Background(), models.KindContacts, models.Filter{Search: "x"}, PriorityLow)
	if err != nil || v != "result-x" {
		t.Fatalf("Submit = %v, %v", v, err)
	}
	if got := exec.invocations(); len(got) != 1 || got[0] != 1 {
		t.Errorf("invocations = %v", got)
	}
}

func TestBatcher_ContextCancelled(t *testing.T) {
	b := New(Config{Enabled: true, MaxWait: time.Hour, MediumWaitFraction: 1})
	exec := &echoExecutor{}
	b.RegisterExecutor(models.KindContacts, exec.run)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Submit(ctx, models.KindContacts, models.Filter{}, PriorityLow); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}

	// Close still executes the abandoned request.
	b.Close()
	if got := exec.invocations(); len(got) != 1 {
		t.Errorf("invocations after close = %v", got)
	}
	if _, err := b.Submit(context.Background(), models.KindContacts, models.Filter{}, PriorityLow); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestBatcher_Key(t *testing.T) {
	b := New(Config{Enabled: true, Intelligent: true})
	defer b.Close()

	a := b.Key(models.KindContacts, models.Filter{Sources: []string{"Slack", "neo4j"}, Status: "active", Limit: 5})
	c := b.Key(models.KindContacts, models.Filter{Sources: []string{"neo4j", "slack"}, Status: " active", Offset: 40})
	if a != c {
		t.Errorf("equivalent batchable filters produced %s and %s", a, c)
	}
	if a == b.Key(models.KindProjects, models.Filter{Sources: []string{"neo4j", "slack"}, Status: "active"}) {
		t.Error("different kinds must not share a key")
	}

	plain := New(Config{Enabled: true})
	defer plain.Close()
	if plain.Key(models.KindContacts, models.Filter{Status: "x"}) != plain.Key(models.KindFinance, models.Filter{}) {
		t.Error("non-intelligent batching uses a single key")
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"high":   PriorityHigh,
		" HIGH ": PriorityHigh,
		"low":    PriorityLow,
		"medium": PriorityMedium,
		"":       PriorityMedium,
		"urgent": PriorityMedium,
	}
	for in, want := range tests {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %v, want %v", in, got, want)
		}
	}
}
