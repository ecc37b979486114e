package client

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestTimeWindowFloor(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	nowMillis := now.UnixMilli()

	assert.Equal(t, int64(0), TimeWindowFloor(FeedSortAll, now))
	assert.Equal(t, int64(0), TimeWindowFloor(FeedSortTopLikedAllTime, now))
	assert.Equal(t, int64(0), TimeWindowFloor(FeedSortTopLikedThisYear, now))

	assert.Equal(t, nowMillis-(1*time.Hour).Milliseconds(), TimeWindowFloor(FeedSortTrendingNow, now))
	assert.Equal(t, nowMillis-(1*time.Hour).Milliseconds(), TimeWindowFloor(FeedSortTopLikedThisHour, now))
	assert.Equal(t, nowMillis-(24*time.Hour).Milliseconds(), TimeWindowFloor(FeedSortTrendingToday, now))
	assert.Equal(t, nowMillis-(7*24*time.Hour).Milliseconds(), TimeWindowFloor(FeedSortTrendingThisWeek, now))
	assert.Equal(t, nowMillis-(30*24*time.Hour).Milliseconds(), TimeWindowFloor(FeedSortTopLikedThisMonth, now))
}

func likers(n int) []Id {
	likerIds := []Id{}
	for i := 0; i < n; i += 1 {
		likerIds = append(likerIds, NewId())
	}
	return likerIds
}

func saves(n int) []*Save {
	saveRecords := []*Save{}
	for i := 0; i < n; i += 1 {
		saveRecords = append(saveRecords, &Save{SaveId: NewId()})
	}
	return saveRecords
}

func TestSortPosts(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// engagement 5, in window
	postA := &Post{
		PostId:    NewId(),
		Caption:   "a",
		CreatedAt: now.Add(-1 * time.Hour),
		Likes:     likers(4),
		Saves:     saves(1),
	}
	// engagement 3, in window
	postB := &Post{
		PostId:    NewId(),
		Caption:   "b",
		CreatedAt: now.Add(-2 * 24 * time.Hour),
		Likes:     likers(2),
		Saves:     saves(1),
	}
	// engagement 9, outside the week window
	postC := &Post{
		PostId:    NewId(),
		Caption:   "c",
		CreatedAt: now.Add(-10 * 24 * time.Hour),
		Likes:     likers(9),
	}
	posts := []*Post{postA, postB, postC}

	// recency, no filter
	sorted := SortPosts(posts, FeedSortAll, now)
	assert.Equal(t, []*Post{postA, postB, postC}, sorted)

	// engagement within the window
	sorted = SortPosts(posts, FeedSortTrendingThisWeek, now)
	assert.Equal(t, []*Post{postA, postB}, sorted)

	// likes only, no filter
	sorted = SortPosts(posts, FeedSortTopLikedAllTime, now)
	assert.Equal(t, []*Post{postC, postA, postB}, sorted)

	// the sort is stable, so re-sorting is the identity
	assert.Equal(t, sorted, SortPosts(sorted, FeedSortTopLikedAllTime, now))

	assert.Equal(t, 0, len(SortPosts(posts, FeedSortTrendingNow, now.Add(2*time.Hour))))
}

func TestEngagementScore(t *testing.T) {
	post := &Post{
		Likes: likers(3),
		Saves: saves(2),
	}
	assert.Equal(t, 5, EngagementScore(post))
}

func TestFeedComposer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	defer store.Close()
	api := store.Api()
	defer api.Close()
	cache := NewQueryCache(ctx)
	defer cache.Close()

	now := time.Now()
	creatorId := NewId()
	for i := 0; i < 25; i += 1 {
		store.addPost(creatorId, "caption", now.Add(-time.Duration(i)*time.Minute), nil)
	}

	composer := NewFeedComposer(NewRecentPostsQuery(api, cache))
	composer.nowFunc = func() time.Time {
		return now
	}

	feedEvents := 0
	unsubscribe := composer.AddFeedCallback(func() {
		feedEvents += 1
	})
	defer unsubscribe()

	// one page per sentinel crossing
	err := composer.SentinelVisible(ctx)
	assert.Equal(t, nil, err)
	view := composer.View()
	assert.Equal(t, feedPageSize, len(view))
	assert.Equal(t, 1, feedEvents)

	// newest first
	for i := 1; i < len(view); i += 1 {
		assert.Equal(t, false, view[i-1].CreatedAt.Before(view[i].CreatedAt))
	}

	composer.SentinelVisible(ctx)
	assert.Equal(t, 24, len(composer.View()))
	composer.SentinelVisible(ctx)
	assert.Equal(t, 25, len(composer.View()))
}

func TestFeedComposerRestrictiveSort(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	defer store.Close()
	api := store.Api()
	defer api.Close()
	cache := NewQueryCache(ctx)
	defer cache.Close()

	now := time.Now()
	creatorId := NewId()
	// every post is outside the month window
	for i := 0; i < 25; i += 1 {
		store.addPost(creatorId, "caption", now.Add(-40*24*time.Hour-time.Duration(i)*time.Minute), nil)
	}

	composer := NewFeedComposer(NewRecentPostsQuery(api, cache))
	composer.nowFunc = func() time.Time {
		return now
	}
	composer.SetSortOption(FeedSortTrendingThisMonth)
	assert.Equal(t, FeedSortTrendingThisMonth, composer.SortOption())

	// the composer keeps fetching while the window leaves the view empty,
	// and stops at exhaustion
	err := composer.SentinelVisible(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(composer.View()))
	assert.Equal(t, false, composer.source.HasNext())

	// widening the sort recovers the working set without a fetch
	composer.SetSortOption(FeedSortAll)
	assert.Equal(t, 25, len(composer.View()))
}

func TestUserPostsQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	defer store.Close()
	api := store.Api()
	defer api.Close()
	cache := NewQueryCache(ctx)
	defer cache.Close()

	now := time.Now()
	creatorId := NewId()
	otherId := NewId()
	for i := 0; i < 5; i += 1 {
		store.addPost(creatorId, "mine", now.Add(-time.Duration(i)*time.Minute), nil)
		store.addPost(otherId, "theirs", now.Add(-time.Duration(i)*time.Minute), nil)
	}

	userPosts := NewUserPostsQuery(api, cache, creatorId)
	defer userPosts.Close()

	userPosts.FetchNext(ctx)
	posts := userPosts.Flat()
	assert.Equal(t, 5, len(posts))
	for _, post := range posts {
		assert.Equal(t, creatorId, post.CreatorId)
	}
}

func TestUsersQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	defer store.Close()
	api := store.Api()
	defer api.Close()
	cache := NewQueryCache(ctx)
	defer cache.Close()

	for i := 0; i < 15; i += 1 {
		store.addUser(NewId(), "User", "user")
	}

	users := NewUsersQuery(api, cache)
	defer users.Close()

	users.FetchNext(ctx)
	assert.Equal(t, feedPageSize, len(users.Flat()))
	users.FetchNext(ctx)
	assert.Equal(t, 15, len(users.Flat()))
}

func TestLikedPostsQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	defer store.Close()
	api := store.Api()
	defer api.Close()
	cache := NewQueryCache(ctx)
	defer cache.Close()

	now := time.Now()
	creatorId := NewId()
	likerId := NewId()
	likedId := store.addPost(creatorId, "liked", now.Add(-100*24*time.Hour), []Id{likerId})
	for i := 0; i < 20; i += 1 {
		store.addPost(creatorId, "unliked", now.Add(-time.Duration(i)*time.Minute), nil)
	}

	likedPosts := NewLikedPostsQuery(api, cache, likerId)
	defer likedPosts.Close()

	// the likes filter is applied by the store, so a liked post far past any
	// recency window is still returned on the first page
	likedPosts.FetchNext(ctx)
	posts := likedPosts.Flat()
	assert.Equal(t, 1, len(posts))
	assert.Equal(t, likedId, posts[0].PostId)
}
