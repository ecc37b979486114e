package client

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// pending mutation state surfaced to the UI while a join-record write is in
// flight. the pending guard is what prevents duplicate Save/Follow records,
// since the store has no unique constraint on join records.
type PendingState string

const (
	PendingStateNone        PendingState = "None"
	PendingStateSaving      PendingState = "Saving"
	PendingStateUnsaving    PendingState = "Unsaving"
	PendingStateFollowing   PendingState = "Following"
	PendingStateUnfollowing PendingState = "Unfollowing"
)

// Engagement reconciles like/save/follow toggle state:
// optimistic local mutation, remote persistence, and staleness-driven
// refresh. there is no rollback path: a failed write leaves the optimistic
// state ahead of remote truth and flags the affected keys stale so the next
// read reconciles.
type Engagement struct {
	ctx context.Context

	api    *StoreApi
	cache  *QueryCache
	userId Id

	stateLock sync.Mutex
	// optimistic like sets by post id. replace-set-on-write.
	likes map[Id][]Id
	// optimistic saved/followed flags between mutation and refetch
	saved    map[Id]bool
	followed map[Id]bool

	pendingSaves   map[Id]PendingState
	pendingFollows map[Id]PendingState
}

func NewEngagement(ctx context.Context, api *StoreApi, cache *QueryCache, userId Id) *Engagement {
	return &Engagement{
		ctx:            ctx,
		api:            api,
		cache:          cache,
		userId:         userId,
		likes:          map[Id][]Id{},
		saved:          map[Id]bool{},
		followed:       map[Id]bool{},
		pendingSaves:   map[Id]PendingState{},
		pendingFollows: map[Id]PendingState{},
	}
}

// likes

// Likes is the effective like set for a post: the optimistic local set when
// a toggle is ahead of the store, otherwise the fetched set
func (self *Engagement) Likes(post *Post) []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if likes, ok := self.likes[post.PostId]; ok {
		return likes
	}
	return post.Likes
}

func (self *Engagement) IsLiked(post *Post) bool {
	for _, likerId := range self.Likes(post) {
		if likerId == self.userId {
			return true
		}
	}
	return false
}

// ToggleLike flips the current user in the post's like set locally, then
// persists the entire resulting set as a single update
func (self *Engagement) ToggleLike(ctx context.Context, post *Post) ([]Id, error) {
	self.stateLock.Lock()
	likes, ok := self.likes[post.PostId]
	if !ok {
		likes = post.Likes
	}
	nextLikes := []Id{}
	hasLiked := false
	for _, likerId := range likes {
		if likerId == self.userId {
			hasLiked = true
			continue
		}
		nextLikes = append(nextLikes, likerId)
	}
	if !hasLiked {
		nextLikes = append(nextLikes, self.userId)
	}
	self.likes[post.PostId] = nextLikes
	self.stateLock.Unlock()

	invalidates := []QueryKey{
		NewQueryKeyWithId(OpGetPostById, post.PostId),
		NewQueryKey(OpGetCurrentUser),
		NewQueryKey(OpGetUserById),
		NewQueryKey(OpGetInfiniteUserLikedPosts),
	}

	_, err := Mutate(self.cache, ctx, func(ctx context.Context) (*Post, error) {
		return self.api.UpdatePostLikesSync(post.PostId, nextLikes)
	}, invalidates...)
	if err != nil {
		// optimistic set stays ahead of remote truth. flag the keys stale
		// so the next read reconciles instead of silently reverting.
		glog.Infof("[engagement]like %s failed, local state ahead of store = %s\n", post.PostId, err)
		self.cache.Invalidate(invalidates...)
		return nextLikes, err
	}
	return nextLikes, nil
}

// saves

func (self *Engagement) PendingSaveState(postId Id) PendingState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if state, ok := self.pendingSaves[postId]; ok {
		return state
	}
	return PendingStateNone
}

// IsSaved is the UI-visible saved state: the optimistic flag when a toggle
// is in flight or not yet observed, otherwise the user's fetched save list
func (self *Engagement) IsSaved(currentUser *User, postId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if saved, ok := self.saved[postId]; ok {
		return saved
	}
	return currentUser.FindSave(postId) != nil
}

// SavePost creates the save join record. a duplicate attempt, whether from a
// pending toggle or an already-present record, is suppressed and leaves the
// saved state unchanged.
func (self *Engagement) SavePost(ctx context.Context, postId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	if state, ok := self.pendingSaves[postId]; ok && state != PendingStateNone {
		self.stateLock.Unlock()
		return nil
	}
	if self.saved[postId] || currentUser.FindSave(postId) != nil {
		self.stateLock.Unlock()
		return nil
	}
	self.pendingSaves[postId] = PendingStateSaving
	self.saved[postId] = true
	self.stateLock.Unlock()

	_, err = Mutate(self.cache, ctx, func(ctx context.Context) (*Save, error) {
		return self.api.CreateSaveSync(self.userId, postId)
	}, NewQueryKey(OpGetCurrentUser))

	self.stateLock.Lock()
	delete(self.pendingSaves, postId)
	if err == nil {
		// remote truth caught up. the next refetch is authoritative.
		delete(self.saved, postId)
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[engagement]save %s failed, local state ahead of store = %s\n", postId, err)
		self.cache.Invalidate(NewQueryKey(OpGetCurrentUser))
	}
	return err
}

// UnsavePost deletes the save join record, located by scanning the current
// user's cached save list for a record referencing the post
func (self *Engagement) UnsavePost(ctx context.Context, postId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	if state, ok := self.pendingSaves[postId]; ok && state != PendingStateNone {
		self.stateLock.Unlock()
		return nil
	}
	save := currentUser.FindSave(postId)
	if save == nil {
		delete(self.saved, postId)
		self.stateLock.Unlock()
		return nil
	}
	self.pendingSaves[postId] = PendingStateUnsaving
	self.saved[postId] = false
	self.stateLock.Unlock()

	_, err = Mutate(self.cache, ctx, func(ctx context.Context) (*DeleteResult, error) {
		return self.api.DeleteSaveSync(save.SaveId)
	}, NewQueryKey(OpGetCurrentUser))

	self.stateLock.Lock()
	delete(self.pendingSaves, postId)
	if err == nil {
		delete(self.saved, postId)
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[engagement]unsave %s failed, local state ahead of store = %s\n", postId, err)
		self.cache.Invalidate(NewQueryKey(OpGetCurrentUser))
	}
	return err
}

func (self *Engagement) ToggleSave(ctx context.Context, postId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}
	if self.IsSaved(currentUser, postId) {
		return self.UnsavePost(ctx, postId)
	}
	return self.SavePost(ctx, postId)
}

// follows

func (self *Engagement) PendingFollowState(userId Id) PendingState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if state, ok := self.pendingFollows[userId]; ok {
		return state
	}
	return PendingStateNone
}

func (self *Engagement) IsFollowing(currentUser *User, followedId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if followed, ok := self.followed[followedId]; ok {
		return followed
	}
	return currentUser.FindFollow(followedId) != nil
}

func followInvalidates() []QueryKey {
	return []QueryKey{
		NewQueryKey(OpGetCurrentUser),
		NewQueryKey(OpGetUserById),
		NewQueryKey(OpGetTopFollowedUsers),
	}
}

// FollowUser creates the follow join record. duplicates are suppressed the
// same way saves are.
func (self *Engagement) FollowUser(ctx context.Context, followedId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	if state, ok := self.pendingFollows[followedId]; ok && state != PendingStateNone {
		self.stateLock.Unlock()
		return nil
	}
	if self.followed[followedId] || currentUser.FindFollow(followedId) != nil {
		self.stateLock.Unlock()
		return nil
	}
	self.pendingFollows[followedId] = PendingStateFollowing
	self.followed[followedId] = true
	self.stateLock.Unlock()

	_, err = Mutate(self.cache, ctx, func(ctx context.Context) (*Follow, error) {
		return self.api.CreateFollowSync(self.userId, followedId)
	}, followInvalidates()...)

	self.stateLock.Lock()
	delete(self.pendingFollows, followedId)
	if err == nil {
		delete(self.followed, followedId)
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[engagement]follow %s failed, local state ahead of store = %s\n", followedId, err)
		self.cache.Invalidate(followInvalidates()...)
	}
	return err
}

// UnfollowUser deletes the follow record by its own id, looked up from the
// current user's cached following list by target user id
func (self *Engagement) UnfollowUser(ctx context.Context, followedId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	if state, ok := self.pendingFollows[followedId]; ok && state != PendingStateNone {
		self.stateLock.Unlock()
		return nil
	}
	follow := currentUser.FindFollow(followedId)
	if follow == nil {
		delete(self.followed, followedId)
		self.stateLock.Unlock()
		return nil
	}
	self.pendingFollows[followedId] = PendingStateUnfollowing
	self.followed[followedId] = false
	self.stateLock.Unlock()

	_, err = Mutate(self.cache, ctx, func(ctx context.Context) (*DeleteResult, error) {
		return self.api.DeleteFollowSync(follow.FollowId)
	}, followInvalidates()...)

	self.stateLock.Lock()
	delete(self.pendingFollows, followedId)
	if err == nil {
		delete(self.followed, followedId)
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.Infof("[engagement]unfollow %s failed, local state ahead of store = %s\n", followedId, err)
		self.cache.Invalidate(followInvalidates()...)
	}
	return err
}

func (self *Engagement) ToggleFollow(ctx context.Context, followedId Id) error {
	currentUser, err := FetchCurrentUser(ctx, self.api, self.cache)
	if err != nil {
		return err
	}
	if self.IsFollowing(currentUser, followedId) {
		return self.UnfollowUser(ctx, followedId)
	}
	return self.FollowUser(ctx, followedId)
}
