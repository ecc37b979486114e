package client

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// search state machine is:
// SearchStateIdle
//
//	-> SearchStateFetching (non-empty query committed)
//	  -> SearchStateEmpty (fetched, zero results)
//	  -> SearchStateResults (fetched, n results)
//	  -> SearchStateIdle (query cleared)
type SearchState string

const (
	SearchStateIdle     SearchState = "Idle"
	SearchStateFetching SearchState = "Fetching"
	SearchStateEmpty    SearchState = "Empty"
	SearchStateResults  SearchState = "Results"
)

type SearchEventFunction = func(query string, state SearchState)

type SearchSettings struct {
	// fixed delay after the last keystroke before queries are issued
	DebounceTimeout time.Duration
}

func DefaultSearchSettings() *SearchSettings {
	return &SearchSettings{
		DebounceTimeout: 500 * time.Millisecond,
	}
}

// per-field result sets for one query, in field priority order
type searchFetchFunction[T Document] func(ctx context.Context, query string) ([][]T, error)

// MergeByIdentity unions result sets, deduplicated by document id.
// first occurrence wins, so field-query order is the ranking.
func MergeByIdentity[T Document](resultSets [][]T) []T {
	seen := map[Id]bool{}
	merged := []T{}
	for _, resultSet := range resultSets {
		for _, document := range resultSet {
			documentId := document.DocumentId()
			if seen[documentId] {
				continue
			}
			seen[documentId] = true
			merged = append(merged, document)
		}
	}
	return merged
}

// Search issues one filtered query per searchable field after the input has
// been idle for the debounce window, and exposes a single merged result set.
// a new keystroke before the window fires cancels the pending search. an
// in-flight fetch superseded by a newer query is not aborted, its result is
// discarded.
type Search[T Document] struct {
	ctx    context.Context
	cancel context.CancelFunc

	cache    *QueryCache
	op       string
	fetch    searchFetchFunction[T]
	settings *SearchSettings

	stateLock  sync.Mutex
	generation int
	timer      *time.Timer
	query      string
	state      SearchState
	results    []T

	searchCallbacks *CallbackList[SearchEventFunction]
}

func NewSearch[T Document](ctx context.Context, cache *QueryCache, op string, fetch searchFetchFunction[T], settings *SearchSettings) *Search[T] {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &Search[T]{
		ctx:             cancelCtx,
		cancel:          cancel,
		cache:           cache,
		op:              op,
		fetch:           fetch,
		settings:        settings,
		state:           SearchStateIdle,
		searchCallbacks: NewCallbackList[SearchEventFunction](),
	}
}

func (self *Search[T]) Close() {
	self.stateLock.Lock()
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	self.stateLock.Unlock()
	self.cancel()
}

func (self *Search[T]) AddSearchCallback(searchCallback SearchEventFunction) func() {
	searchCallbackId := self.searchCallbacks.Add(searchCallback)
	return func() {
		self.searchCallbacks.Remove(searchCallbackId)
	}
}

func (self *Search[T]) event(query string, state SearchState) {
	for _, searchCallback := range self.searchCallbacks.Get() {
		callback := searchCallback
		safeCallback(func() {
			callback(query, state)
		})
	}
}

// SetQuery feeds one keystroke's worth of input. an empty query returns to
// idle without issuing anything.
func (self *Search[T]) SetQuery(query string) {
	self.stateLock.Lock()
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
	self.generation += 1
	self.query = query

	if query == "" {
		self.state = SearchStateIdle
		self.results = nil
		self.stateLock.Unlock()
		self.event(query, SearchStateIdle)
		return
	}

	generation := self.generation
	self.state = SearchStateFetching
	self.timer = time.AfterFunc(self.settings.DebounceTimeout, func() {
		self.run(generation, query)
	})
	self.stateLock.Unlock()
	self.event(query, SearchStateFetching)
}

func (self *Search[T]) run(generation int, query string) {
	results, err := ReadCached(self.cache, self.ctx, NewQueryKeyWithParam(self.op, query), func(ctx context.Context) ([]T, error) {
		resultSets, err := self.fetch(ctx, query)
		if err != nil {
			return nil, err
		}
		return MergeByIdentity(resultSets), nil
	})

	self.stateLock.Lock()
	if generation != self.generation {
		// superseded by a newer query. discard.
		self.stateLock.Unlock()
		glog.V(2).Infof("[search]discard superseded %s(%s)\n", self.op, query)
		return
	}
	var state SearchState
	if err != nil {
		// back to idle. the failure surfaces through the notification layer.
		glog.Infof("[search]%s(%s) = %s\n", self.op, query, err)
		state = SearchStateIdle
	} else if len(results) == 0 {
		state = SearchStateEmpty
	} else {
		state = SearchStateResults
	}
	self.state = state
	self.results = results
	self.stateLock.Unlock()
	self.event(query, state)
}

// Results is the current state and merged result set
func (self *Search[T]) Results() (SearchState, []T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.state, self.results
}

// NewPostSearch searches caption, then location, then tags
func NewPostSearch(ctx context.Context, api *StoreApi, cache *QueryCache, settings *SearchSettings) *Search[*Post] {
	return NewSearch(ctx, cache, OpSearchPosts, func(ctx context.Context, query string) ([][]*Post, error) {
		resultSets := [][]*Post{}
		for _, fieldQuery := range []*Query{
			ContainsQuery("caption", query),
			ContainsQuery("location", query),
			ContainsQuery("tags", query),
		} {
			postList, err := api.ListPostsSync([]*Query{fieldQuery})
			if err != nil {
				return nil, err
			}
			resultSets = append(resultSets, postList.Documents)
		}
		return resultSets, nil
	}, settings)
}

// NewUserSearch searches name, then username
func NewUserSearch(ctx context.Context, api *StoreApi, cache *QueryCache, settings *SearchSettings) *Search[*User] {
	return NewSearch(ctx, cache, OpSearchUsers, func(ctx context.Context, query string) ([][]*User, error) {
		resultSets := [][]*User{}
		for _, fieldQuery := range []*Query{
			SearchQuery("name", query),
			SearchQuery("username", query),
		} {
			userList, err := api.ListUsersSync([]*Query{fieldQuery})
			if err != nil {
				return nil, err
			}
			resultSets = append(resultSets, userList.Documents)
		}
		return resultSets, nil
	}, settings)
}
