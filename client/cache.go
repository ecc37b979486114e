package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// query identities, one per remote read operation
const (
	OpGetCurrentUser            = "getCurrentUser"
	OpGetPostById               = "getPostById"
	OpGetUserById               = "getUserById"
	OpGetInfinitePosts          = "getInfinitePosts"
	OpGetInfiniteUserPosts      = "getInfiniteUserPosts"
	OpGetInfiniteUserLikedPosts = "getInfiniteUserLikedPosts"
	OpGetInfiniteUsers          = "getInfiniteUsers"
	OpGetTopFollowedUsers       = "getTopFollowedUsers"
	OpSearchPosts               = "getSearchPosts"
	OpSearchUsers               = "getSearchUsers"
)

// entry state machine is:
// EntryStateFetching
//
//	-> EntryStateFresh
//	  -> EntryStateStale (on invalidation)
//	-> prior state (on fetch failure)
type EntryState string

const (
	EntryStateFresh    EntryState = "Fresh"
	EntryStateStale    EntryState = "Stale"
	EntryStateFetching EntryState = "Fetching"
)

// key = (operation name, serialized parameters).
// an empty Param in a pattern matches every key for the operation.
type QueryKey struct {
	Op    string
	Param string
}

func NewQueryKey(op string) QueryKey {
	return QueryKey{Op: op}
}

func NewQueryKeyWithParam(op string, param string) QueryKey {
	return QueryKey{Op: op, Param: param}
}

func NewQueryKeyWithId(op string, id Id) QueryKey {
	return QueryKey{Op: op, Param: id.String()}
}

func (self QueryKey) Matches(key QueryKey) bool {
	if self.Op != key.Op {
		return false
	}
	return self.Param == "" || key.Param == "" || self.Param == key.Param
}

func (self QueryKey) String() string {
	if self.Param == "" {
		return self.Op
	}
	return fmt.Sprintf("%s/%s", self.Op, self.Param)
}

type CacheEventFunction = func(key QueryKey, state EntryState)

type cacheSubscription struct {
	pattern  QueryKey
	callback CacheEventFunction
}

// one in-flight fetch and its shared outcome.
// value and err are written before done closes, so waiters read them lock-free.
type fetchRound struct {
	done  chan struct{}
	value any
	err   error
}

type cacheEntry struct {
	state    EntryState
	value    any
	hasValue bool

	// non-nil while a fetch for this key is in flight
	round *fetchRound

	// an invalidation arrived while fetching.
	// the fetched result is stored stale so the next read reconciles.
	invalidated bool
}

// QueryCache is the process-wide cache shared by all views.
// staleness flags are the only coordination between mutations and reads.
type QueryCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	stateLock sync.Mutex
	entries   map[QueryKey]*cacheEntry

	subscriptions *CallbackList[*cacheSubscription]
}

func NewQueryCache(ctx context.Context) *QueryCache {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &QueryCache{
		ctx:           cancelCtx,
		cancel:        cancel,
		entries:       map[QueryKey]*cacheEntry{},
		subscriptions: NewCallbackList[*cacheSubscription](),
	}
}

func (self *QueryCache) Close() {
	self.cancel()
}

// Subscribe registers a callback for state changes of keys matching `pattern`.
// the returned function unsubscribes.
func (self *QueryCache) Subscribe(pattern QueryKey, callback CacheEventFunction) func() {
	subscriptionId := self.subscriptions.Add(&cacheSubscription{
		pattern:  pattern,
		callback: callback,
	})
	return func() {
		self.subscriptions.Remove(subscriptionId)
	}
}

func (self *QueryCache) event(key QueryKey, state EntryState) {
	for _, subscription := range self.subscriptions.Get() {
		if subscription.pattern.Matches(key) {
			callback := subscription.callback
			safeCallback(func() {
				callback(key, state)
			})
		}
	}
}

// State reports the current entry state. missing keys read as stale.
func (self *QueryCache) State(key QueryKey) EntryState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[key]
	if !ok {
		return EntryStateStale
	}
	return entry.state
}

// read returns the cached value if fresh, otherwise runs `fetch`.
// concurrent reads of the same key share one in-flight fetch.
// a failed fetch leaves the entry in its prior state.
func (self *QueryCache) read(ctx context.Context, key QueryKey, fetch func(ctx context.Context) (any, error)) (any, error) {
	self.stateLock.Lock()
	entry, ok := self.entries[key]
	if !ok {
		entry = &cacheEntry{
			state: EntryStateStale,
		}
		self.entries[key] = entry
	}

	switch entry.state {
	case EntryStateFresh:
		value := entry.value
		self.stateLock.Unlock()
		return value, nil
	case EntryStateFetching:
		round := entry.round
		self.stateLock.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-self.ctx.Done():
			return nil, self.ctx.Err()
		case <-round.done:
		}
		return round.value, round.err
	}

	// stale or missing. this caller fetches.
	priorState := entry.state
	entry.state = EntryStateFetching
	entry.invalidated = false
	round := &fetchRound{
		done: make(chan struct{}),
	}
	entry.round = round
	self.stateLock.Unlock()

	glog.V(2).Infof("[cache]fetch %s\n", key)
	value, err := fetch(ctx)
	round.value = value
	round.err = err

	self.stateLock.Lock()
	var state EntryState
	if err == nil {
		entry.value = value
		entry.hasValue = true
		if entry.invalidated {
			entry.state = EntryStateStale
		} else {
			entry.state = EntryStateFresh
		}
	} else {
		// no poisoning. prior value, prior state.
		entry.state = priorState
	}
	state = entry.state
	entry.round = nil
	close(round.done)
	self.stateLock.Unlock()

	if err != nil {
		return nil, err
	}
	self.event(key, state)
	return value, nil
}

// Invalidate marks every entry matching any pattern stale and notifies
// subscribers of the patterns, whether or not an entry exists for them.
func (self *QueryCache) Invalidate(patterns ...QueryKey) {
	self.stateLock.Lock()
	for key, entry := range self.entries {
		for _, pattern := range patterns {
			if pattern.Matches(key) {
				switch entry.state {
				case EntryStateFresh:
					entry.state = EntryStateStale
				case EntryStateFetching:
					entry.invalidated = true
				}
				break
			}
		}
	}
	self.stateLock.Unlock()

	for _, pattern := range patterns {
		glog.V(1).Infof("[cache]invalidate %s\n", pattern)
		self.event(pattern, EntryStateStale)
	}
}

// ReadCached is the typed read form
func ReadCached[R any](cache *QueryCache, ctx context.Context, key QueryKey, fetch func(ctx context.Context) (R, error)) (R, error) {
	value, err := cache.read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var empty R
		return empty, err
	}
	return value.(R), nil
}

// Mutate runs `fetch` and, only on success, invalidates the given patterns.
// there is no rollback: a failed write leaves local optimistic state ahead
// of remote truth until the affected keys are re-read.
func Mutate[R any](cache *QueryCache, ctx context.Context, fetch func(ctx context.Context) (R, error), invalidates ...QueryKey) (R, error) {
	result, err := fetch(ctx)
	if err != nil {
		var empty R
		return empty, err
	}
	cache.Invalidate(invalidates...)
	return result, nil
}

// paged queries

type PageCursor = Id

type PagedFetchFunction[T Document] func(ctx context.Context, cursor *PageCursor) ([]T, error)

// NextPageParam computes the continuation cursor from the last fetched page.
// a nil return terminates pagination: an empty page always terminates.
func NextPageParam[T Document](lastPage []T) *PageCursor {
	if len(lastPage) == 0 {
		return nil
	}
	cursor := lastPage[len(lastPage)-1].DocumentId()
	return &cursor
}

// PagedQuery accumulates result pages for one paginated read.
// invalidation of its key resets the accumulated pages.
type PagedQuery[T Document] struct {
	cache *QueryCache
	key   QueryKey
	fetch PagedFetchFunction[T]

	unsubscribe func()

	stateLock  sync.Mutex
	pages      [][]T
	nextCursor *PageCursor
	generation int
	exhausted  bool
	fetching   bool
}

func NewPagedQuery[T Document](cache *QueryCache, key QueryKey, fetch PagedFetchFunction[T]) *PagedQuery[T] {
	pagedQuery := &PagedQuery[T]{
		cache: cache,
		key:   key,
		fetch: fetch,
	}
	pagedQuery.unsubscribe = cache.Subscribe(key, func(key QueryKey, state EntryState) {
		if state == EntryStateStale {
			pagedQuery.Reset()
		}
	})
	return pagedQuery
}

func (self *PagedQuery[T]) Close() {
	self.unsubscribe()
}

// Reset drops accumulated pages so the next fetch starts over
func (self *PagedQuery[T]) Reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.pages = nil
	self.nextCursor = nil
	self.generation += 1
	self.exhausted = false
}

func (self *PagedQuery[T]) HasNext() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return !self.exhausted
}

func (self *PagedQuery[T]) Fetching() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.fetching
}

// FetchNext fetches one more page. it refuses while another fetch for this
// query is in flight, and after the query is exhausted.
func (self *PagedQuery[T]) FetchNext(ctx context.Context) (bool, error) {
	self.stateLock.Lock()
	if self.fetching || self.exhausted {
		self.stateLock.Unlock()
		return false, nil
	}
	self.fetching = true
	cursor := self.nextCursor
	generation := self.generation
	self.stateLock.Unlock()

	page, err := self.fetch(ctx, cursor)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.fetching = false
	if err != nil {
		return false, err
	}
	if generation != self.generation {
		// reset raced with this fetch. the page is no longer authoritative.
		return false, nil
	}
	self.pages = append(self.pages, page)
	self.nextCursor = NextPageParam(page)
	if self.nextCursor == nil {
		self.exhausted = true
	}
	return true, nil
}

// Flat returns all fetched documents in page order,
// deduplicated by document id, first occurrence wins
func (self *PagedQuery[T]) Flat() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	seen := map[Id]bool{}
	flat := []T{}
	for _, page := range self.pages {
		for _, document := range page {
			documentId := document.DocumentId()
			if seen[documentId] {
				continue
			}
			seen[documentId] = true
			flat = append(flat, document)
		}
	}
	return flat
}
