package client

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/exp/slices"
)

// FetchCurrentUser resolves the signed-in account to its user document,
// through the cache
func FetchCurrentUser(ctx context.Context, api *StoreApi, cache *QueryCache) (*User, error) {
	return ReadCached(cache, ctx, NewQueryKey(OpGetCurrentUser), func(ctx context.Context) (*User, error) {
		account, err := api.GetAccountSync()
		if err != nil {
			return nil, err
		}
		userList, err := api.ListUsersSync([]*Query{
			EqualQuery("accountId", account.AccountId.String()),
		})
		if err != nil {
			return nil, err
		}
		if len(userList.Documents) == 0 {
			return nil, ErrNotFound
		}
		return userList.Documents[0], nil
	})
}

// FetchUserById reads a user document through the cache.
// a deleted user resolves to (nil, nil): the caller renders "not found".
func FetchUserById(ctx context.Context, api *StoreApi, cache *QueryCache, userId Id) (*User, error) {
	user, err := ReadCached(cache, ctx, NewQueryKeyWithId(OpGetUserById, userId), func(ctx context.Context) (*User, error) {
		return api.GetUserSync(userId)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return user, err
}

// FetchTopFollowedUsers ranks the most recent users by follower count.
// the ranking itself is client side, the store has no aggregate sort.
func FetchTopFollowedUsers(ctx context.Context, api *StoreApi, cache *QueryCache, limit int) ([]*User, error) {
	return ReadCached(cache, ctx, NewQueryKey(OpGetTopFollowedUsers), func(ctx context.Context) ([]*User, error) {
		queries := []*Query{
			OrderDescQuery("$createdAt"),
		}
		if 0 < limit {
			queries = append(queries, LimitQuery(limit))
		}
		userList, err := api.ListUsersSync(queries)
		if err != nil {
			return nil, err
		}
		users := userList.Documents
		slices.SortStableFunc(users, func(a *User, b *User) int {
			return b.FollowerCount() - a.FollowerCount()
		})
		if 0 < limit && limit < len(users) {
			users = users[0:limit]
		}
		return users, nil
	})
}

// auth flows

type SignupArgs struct {
	Name     string
	Username string
	Email    string
	Password string
}

// initials avatar served by the store, used until the user uploads one
func initialsAvatarUrl(api *StoreApi, name string) string {
	return fmt.Sprintf("%s/v1/avatars/initials?name=%s", api.storeUrl, url.QueryEscape(name))
}

// Signup creates the auth account and its user document.
// field validation blocks the remote calls entirely.
func Signup(ctx context.Context, api *StoreApi, signup *SignupArgs) (*User, error) {
	if fieldErrors := ValidateSignup(signup); len(fieldErrors) != 0 {
		return nil, fieldErrors[0]
	}

	account, err := api.CreateAccountSync(&CreateAccountArgs{
		Email:    signup.Email,
		Password: signup.Password,
		Name:     signup.Name,
	})
	if err != nil {
		return nil, err
	}

	return api.CreateUserSync(&UserFields{
		AccountId: account.AccountId.String(),
		Name:      account.Name,
		Email:     account.Email,
		Username:  NormalizeUsername(signup.Username),
		ImageUrl:  initialsAvatarUrl(api, account.Name),
	})
}

// Signin opens an email session and attaches its jwt to the api
func Signin(ctx context.Context, api *StoreApi, email string, password string) (*Session, error) {
	session, err := api.CreateEmailSessionSync(&CreateSessionArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	api.SetSessionJwt(session.Jwt)
	return session, nil
}

func Signout(ctx context.Context, api *StoreApi, cache *QueryCache) error {
	_, err := api.DeleteSessionSync()
	if err != nil {
		return err
	}
	api.SetSessionJwt("")
	cache.Invalidate(NewQueryKey(OpGetCurrentUser))
	return nil
}

// profile

type EditUserArgs struct {
	UserId Id
	Name   string
	Bio    string
}

type userProfileFields struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

// EditUser updates a profile. only the owner may edit: the permission is
// re-checked at submission time even though the UI hides the control.
func EditUser(ctx context.Context, api *StoreApi, cache *QueryCache, currentUserId Id, editUser *EditUserArgs) (*User, error) {
	if currentUserId != editUser.UserId {
		return nil, ErrPermissionDenied
	}
	return Mutate(cache, ctx, func(ctx context.Context) (*User, error) {
		return api.UpdateUserSync(editUser.UserId, &userProfileFields{
			Name: editUser.Name,
			Bio:  editUser.Bio,
		})
	},
		NewQueryKey(OpGetCurrentUser),
		NewQueryKeyWithId(OpGetUserById, editUser.UserId),
	)
}
