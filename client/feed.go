package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

const feedPageSize = 12

type FeedSortOption string

const (
	FeedSortAll FeedSortOption = "All"

	FeedSortTrendingNow       FeedSortOption = "Trending Now"
	FeedSortTrendingToday     FeedSortOption = "Trending Today"
	FeedSortTrendingThisWeek  FeedSortOption = "Trending This Week"
	FeedSortTrendingThisMonth FeedSortOption = "Trending This Month"

	FeedSortTopLikedAllTime   FeedSortOption = "Top Liked All Time"
	FeedSortTopLikedThisYear  FeedSortOption = "Top Liked This Year"
	FeedSortTopLikedThisMonth FeedSortOption = "Top Liked This Month"
	FeedSortTopLikedThisWeek  FeedSortOption = "Top Liked This Week"
	FeedSortTopLikedToday     FeedSortOption = "Top Liked Today"
	FeedSortTopLikedThisHour  FeedSortOption = "Top Liked This Hour"
)

// TimeWindowFloor is the epoch-millisecond creation cutoff for a sort option.
// all-time variants have floor 0.
func TimeWindowFloor(sortOption FeedSortOption, now time.Time) int64 {
	nowMillis := now.UnixMilli()
	switch sortOption {
	case FeedSortTrendingNow, FeedSortTopLikedThisHour:
		return nowMillis - (1 * time.Hour).Milliseconds()
	case FeedSortTrendingToday, FeedSortTopLikedToday:
		return nowMillis - (24 * time.Hour).Milliseconds()
	case FeedSortTrendingThisWeek, FeedSortTopLikedThisWeek:
		return nowMillis - (7 * 24 * time.Hour).Milliseconds()
	case FeedSortTrendingThisMonth, FeedSortTopLikedThisMonth:
		return nowMillis - (30 * 24 * time.Hour).Milliseconds()
	default:
		return 0
	}
}

type feedMetric string

const (
	feedMetricRecency  feedMetric = "recency"
	feedMetricLikes    feedMetric = "likes"
	feedMetricTrending feedMetric = "trending"
)

func sortMetric(sortOption FeedSortOption) feedMetric {
	switch sortOption {
	case FeedSortTopLikedAllTime, FeedSortTopLikedThisYear, FeedSortTopLikedThisMonth,
		FeedSortTopLikedThisWeek, FeedSortTopLikedToday, FeedSortTopLikedThisHour:
		return feedMetricLikes
	case FeedSortTrendingNow, FeedSortTrendingToday, FeedSortTrendingThisWeek,
		FeedSortTrendingThisMonth:
		return feedMetricTrending
	default:
		return feedMetricRecency
	}
}

// likes plus saves, the combined trending metric
func EngagementScore(post *Post) int {
	return post.LikeCount() + post.SaveCount()
}

// SortPosts applies the time-window floor then the comparator for
// `sortOption`. the sort is stable: equal keys keep their relative order,
// so re-sorting an already sorted set is the identity.
func SortPosts(posts []*Post, sortOption FeedSortOption, now time.Time) []*Post {
	floor := TimeWindowFloor(sortOption, now)

	filtered := []*Post{}
	for _, post := range posts {
		if floor == 0 || floor <= post.CreatedAt.UnixMilli() {
			filtered = append(filtered, post)
		}
	}

	switch sortMetric(sortOption) {
	case feedMetricLikes:
		slices.SortStableFunc(filtered, func(a *Post, b *Post) int {
			return b.LikeCount() - a.LikeCount()
		})
	case feedMetricTrending:
		slices.SortStableFunc(filtered, func(a *Post, b *Post) int {
			return EngagementScore(b) - EngagementScore(a)
		})
	default:
		slices.SortStableFunc(filtered, func(a *Post, b *Post) int {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			} else if b.CreatedAt.After(a.CreatedAt) {
				return 1
			} else {
				return 0
			}
		})
	}

	return filtered
}

// feed sources

func fetchQueries(queries []*Query, cursor *PageCursor) []*Query {
	if cursor != nil {
		queries = append(queries, CursorAfterQuery(*cursor))
	}
	return queries
}

// NewRecentPostsQuery pages through all posts, newest first
func NewRecentPostsQuery(api *StoreApi, cache *QueryCache) *PagedQuery[*Post] {
	return NewPagedQuery(cache, NewQueryKey(OpGetInfinitePosts), func(ctx context.Context, cursor *PageCursor) ([]*Post, error) {
		queries := []*Query{
			OrderDescQuery("$createdAt"),
			LimitQuery(feedPageSize),
		}
		postList, err := api.ListPostsSync(fetchQueries(queries, cursor))
		if err != nil {
			return nil, err
		}
		return postList.Documents, nil
	})
}

// NewUserPostsQuery pages through one creator's posts, newest first
func NewUserPostsQuery(api *StoreApi, cache *QueryCache, userId Id) *PagedQuery[*Post] {
	return NewPagedQuery(cache, NewQueryKeyWithId(OpGetInfiniteUserPosts, userId), func(ctx context.Context, cursor *PageCursor) ([]*Post, error) {
		queries := []*Query{
			EqualQuery("creator", userId.String()),
			OrderDescQuery("$createdAt"),
			LimitQuery(feedPageSize),
		}
		postList, err := api.ListPostsSync(fetchQueries(queries, cursor))
		if err != nil {
			return nil, err
		}
		return postList.Documents, nil
	})
}

// NewLikedPostsQuery pages through the posts a user has liked.
// the likes filter is applied by the store, so every page is fully populated
// and liked posts older than any fixed window are still returned.
func NewLikedPostsQuery(api *StoreApi, cache *QueryCache, userId Id) *PagedQuery[*Post] {
	return NewPagedQuery(cache, NewQueryKeyWithId(OpGetInfiniteUserLikedPosts, userId), func(ctx context.Context, cursor *PageCursor) ([]*Post, error) {
		queries := []*Query{
			ContainsQuery("likes", userId.String()),
			OrderDescQuery("$createdAt"),
			LimitQuery(feedPageSize),
		}
		postList, err := api.ListPostsSync(fetchQueries(queries, cursor))
		if err != nil {
			return nil, err
		}
		return postList.Documents, nil
	})
}

// NewUsersQuery pages through all users, newest first
func NewUsersQuery(api *StoreApi, cache *QueryCache) *PagedQuery[*User] {
	return NewPagedQuery(cache, NewQueryKey(OpGetInfiniteUsers), func(ctx context.Context, cursor *PageCursor) ([]*User, error) {
		queries := []*Query{
			OrderDescQuery("$createdAt"),
			LimitQuery(feedPageSize),
		}
		userList, err := api.ListUsersSync(fetchQueries(queries, cursor))
		if err != nil {
			return nil, err
		}
		return userList.Documents, nil
	})
}

type FeedEventFunction = func()

// FeedComposer produces the ordered list of posts for a feed view from one
// paginated source. changing the sort option re-orders the working set
// without a remote fetch.
type FeedComposer struct {
	source *PagedQuery[*Post]

	// test hook for the time-window floor
	nowFunc func() time.Time

	stateLock  sync.Mutex
	sortOption FeedSortOption

	feedCallbacks *CallbackList[FeedEventFunction]
}

func NewFeedComposer(source *PagedQuery[*Post]) *FeedComposer {
	return &FeedComposer{
		source:        source,
		nowFunc:       time.Now,
		sortOption:    FeedSortAll,
		feedCallbacks: NewCallbackList[FeedEventFunction](),
	}
}

func (self *FeedComposer) AddFeedCallback(feedCallback FeedEventFunction) func() {
	feedCallbackId := self.feedCallbacks.Add(feedCallback)
	return func() {
		self.feedCallbacks.Remove(feedCallbackId)
	}
}

func (self *FeedComposer) event() {
	for _, feedCallback := range self.feedCallbacks.Get() {
		safeCallback(feedCallback)
	}
}

func (self *FeedComposer) SortOption() FeedSortOption {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.sortOption
}

func (self *FeedComposer) SetSortOption(sortOption FeedSortOption) {
	self.stateLock.Lock()
	self.sortOption = sortOption
	self.stateLock.Unlock()

	self.event()
}

// View is the filtered, sorted working set accumulated so far
func (self *FeedComposer) View() []*Post {
	self.stateLock.Lock()
	sortOption := self.sortOption
	now := self.nowFunc()
	self.stateLock.Unlock()

	return SortPosts(self.source.Flat(), sortOption, now)
}

// SentinelVisible is the pagination trigger: the view's sentinel element
// entered view. fetch-next is demand driven and never issued while a fetch
// for this source is in flight.
func (self *FeedComposer) SentinelVisible(ctx context.Context) error {
	fetched, err := self.source.FetchNext(ctx)
	if err != nil {
		return err
	}
	if fetched {
		self.event()
	}
	return self.EnsureVisible(ctx)
}

// EnsureVisible keeps fetching while a restrictive sort window leaves the
// visible set empty and more remote pages exist
func (self *FeedComposer) EnsureVisible(ctx context.Context) error {
	for len(self.View()) == 0 && self.source.HasNext() {
		fetched, err := self.source.FetchNext(ctx)
		if err != nil {
			return err
		}
		if !fetched {
			// a fetch is already in flight
			return nil
		}
		self.event()
	}
	return nil
}
