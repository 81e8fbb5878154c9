// Package cursor pages through the rows matching a compiled predicate list.
//
// A Cursor keeps the concatenation of every page fetched for the current
// predicates and sort. Changing either starts a new generation: fetched rows
// are dropped and any fetch still running for an older generation is
// discarded when it returns. At most one fetch runs per generation; callers
// that ask for more while it runs wait for it instead of starting another.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
)

// DefaultPageSize is the number of rows requested per page.
const DefaultPageSize = 50

var (
	// ErrBackendQuery is wrapped by every page fetch failure.
	ErrBackendQuery = errors.New("backend query failed")
	// ErrNotSortable is returned when sorting by a column outside the allow-list.
	ErrNotSortable = errors.New("column is not sortable")
)

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort orders result rows by one column.
type Sort struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// DefaultSort is newest first.
var DefaultSort = Sort{Column: "created_at", Direction: Desc}

// PageRequest asks the store for one page.
type PageRequest struct {
	Predicates []predicate.Predicate
	Sort       Sort
	Offset     int
	Limit      int
}

// Fetcher loads one page of rows.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, req PageRequest) ([]T, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, req PageRequest) ([]T, error)

// FetchPage calls f.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, req PageRequest) ([]T, error) {
	return f(ctx, req)
}

// BackendQueryError reports a failed page fetch. The cursor state is left as
// it was before the fetch; calling LoadMore again retries the same page.
type BackendQueryError struct {
	Generation uint64
	Offset     int
	Err        error
}

func (e *BackendQueryError) Error() string {
	return fmt.Sprintf("fetch page at offset %d: %v", e.Offset, e.Err)
}

// Unwrap exposes both ErrBackendQuery and the store error.
func (e *BackendQueryError) Unwrap() []error {
	return []error{ErrBackendQuery, e.Err}
}

type fetch struct {
	generation uint64
	done       chan struct{}
	err        error
}

// Cursor accumulates pages for one query. It is safe for concurrent use.
type Cursor[T any] struct {
	fetcher  Fetcher[T]
	pageSize int
	sortable map[string]bool
	logger   *slog.Logger

	mu          sync.Mutex
	generation  uint64
	predicates  []predicate.Predicate
	fingerprint string
	sort        Sort
	items       []T
	hasMore     bool
	inflight    *fetch
	lastErr     error
}

// Option configures a Cursor.
type Option func(*options)

type options struct {
	pageSize int
	sortable []string
	sort     Sort
	logger   *slog.Logger
}

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithSortable replaces the sort allow-list, which defaults to the sortable
// columns of the call-log registry.
func WithSortable(columns ...string) Option {
	return func(o *options) { o.sortable = columns }
}

// WithSort sets the initial sort.
func WithSort(s Sort) Option {
	return func(o *options) { o.sort = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates a cursor with no predicates and nothing fetched.
func New[T any](fetcher Fetcher[T], opts ...Option) *Cursor[T] {
	o := options{
		pageSize: DefaultPageSize,
		sortable: filter.DefaultRegistry().SortableColumns(),
		sort:     DefaultSort,
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(&o)
	}

	sortable := make(map[string]bool, len(o.sortable))
	for _, col := range o.sortable {
		sortable[col] = true
	}

	return &Cursor[T]{
		fetcher:     fetcher,
		pageSize:    o.pageSize,
		sortable:    sortable,
		logger:      o.logger,
		fingerprint: predicate.Fingerprint(nil),
		sort:        o.sort,
		hasMore:     true,
	}
}

// LoadMore fetches the next page and appends it. It is a no-op once a short
// page has been seen. If a fetch for the current generation is already
// running, LoadMore waits for it and returns its result.
//
// A fetch that finishes after the predicates or sort changed is discarded and
// LoadMore returns nil.
func (c *Cursor[T]) LoadMore(ctx context.Context) error {
	c.mu.Lock()

	if f := c.inflight; f != nil && f.generation == c.generation {
		c.mu.Unlock()

		return wait(ctx, f)
	}

	if !c.hasMore {
		c.mu.Unlock()

		return nil
	}

	f := &fetch{generation: c.generation, done: make(chan struct{})}
	req := PageRequest{
		Predicates: slices.Clone(c.predicates),
		Sort:       c.sort,
		Offset:     len(c.items),
		Limit:      c.pageSize,
	}
	c.inflight = f
	c.mu.Unlock()

	page, err := c.fetcher.FetchPage(ctx, req)

	c.mu.Lock()

	if c.inflight == f {
		c.inflight = nil
	}

	switch {
	case f.generation != c.generation:
		c.logger.Debug("Discarding stale page",
			slog.Uint64("generation", f.generation),
			slog.Uint64("current_generation", c.generation),
			slog.Int("offset", req.Offset))
	case err != nil:
		f.err = &BackendQueryError{Generation: f.generation, Offset: req.Offset, Err: err}
		c.lastErr = f.err

		c.logger.Error("Page fetch failed",
			slog.Uint64("generation", f.generation),
			slog.Int("offset", req.Offset),
			slog.String("error", err.Error()))
	default:
		c.items = append(c.items, page...)
		c.hasMore = len(page) >= c.pageSize
		c.lastErr = nil
	}

	c.mu.Unlock()
	close(f.done)

	return f.err
}

// SentinelVisible reports that the end of the list came into view. It loads
// the next page only when more rows exist and no fetch is running, and
// reports whether it did.
func (c *Cursor[T]) SentinelVisible(ctx context.Context) (bool, error) {
	c.mu.Lock()
	ready := c.hasMore && (c.inflight == nil || c.inflight.generation != c.generation)
	c.mu.Unlock()

	if !ready {
		return false, nil
	}

	return true, c.LoadMore(ctx)
}

// SetPredicates replaces the compiled predicates. Fetched rows are dropped
// only when the list actually changed; it reports whether it did.
func (c *Cursor[T]) SetPredicates(preds []predicate.Predicate) bool {
	fp := predicate.Fingerprint(preds)

	c.mu.Lock()
	defer c.mu.Unlock()

	if fp == c.fingerprint {
		return false
	}

	c.predicates = slices.Clone(preds)
	c.fingerprint = fp
	c.invalidate()

	return true
}

// ToggleSort handles a click on a column header. The active column flips
// direction; another allow-listed column becomes active, descending. Columns
// outside the allow-list are ignored and ToggleSort returns false.
func (c *Cursor[T]) ToggleSort(column string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sortable[column] {
		return false
	}

	if c.sort.Column == column {
		c.sort.Direction = flip(c.sort.Direction)
	} else {
		c.sort = Sort{Column: column, Direction: Desc}
	}

	c.invalidate()

	return true
}

// SetSort sets the sort directly, for restoring a saved state.
func (c *Cursor[T]) SetSort(s Sort) error {
	if !c.sortable[s.Column] {
		return fmt.Errorf("%w: %q", ErrNotSortable, s.Column)
	}

	if s.Direction != Asc {
		s.Direction = Desc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s == c.sort {
		return nil
	}

	c.sort = s
	c.invalidate()

	return nil
}

// Reset drops fetched rows and starts a new generation.
func (c *Cursor[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidate()
}

// Items returns a copy of every row fetched so far.
func (c *Cursor[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.items)
}

// Len returns the number of rows fetched so far.
func (c *Cursor[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// HasMore reports whether another page may exist.
func (c *Cursor[T]) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hasMore
}

// Loading reports whether a fetch for the current generation is running.
func (c *Cursor[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inflight != nil && c.inflight.generation == c.generation
}

// Err returns the last fetch failure of the current generation, or nil.
func (c *Cursor[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// Sort returns the active sort.
func (c *Cursor[T]) Sort() Sort {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sort
}

// Predicates returns a copy of the active predicates.
func (c *Cursor[T]) Predicates() []predicate.Predicate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.predicates)
}

// Generation returns the current generation number.
func (c *Cursor[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation
}

// invalidate must be called with mu held.
func (c *Cursor[T]) invalidate() {
	c.generation++
	c.items = nil
	c.hasMore = true
	c.inflight = nil
	c.lastErr = nil
}

func wait(ctx context.Context, f *fetch) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func flip(d Direction) Direction {
	if d == Desc {
		return Asc
	}

	return Desc
}
