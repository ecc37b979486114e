package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"

	"snapgram.com/client"
)

const SnapCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Snapgram store client.

The default urls are:
    store_url: https://store.snapgram.com

Usage:
    snapctl signup [--store_url=<store_url>] [--project=<project>]
        --name=<name>
        --username=<username>
        --user_auth=<user_auth>
        --password=<password>
    snapctl login [--store_url=<store_url>] [--project=<project>]
        --user_auth=<user_auth>
        --password=<password>
    snapctl feed [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        [--sort=<sort>]
        [--pages=<pages>]
    snapctl search [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        <query>
    snapctl people [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
    snapctl like [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        <post_id>
    snapctl save [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        <post_id>
    snapctl follow [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        <user_id>
    snapctl post [--store_url=<store_url>] [--project=<project>] --jwt=<jwt>
        --caption=<caption>
        --image=<image>
        [--location=<location>]
        [--tags=<tags>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --store_url=<store_url>
    --project=<project>      Store project id.
    --name=<name>
    --username=<username>
    --user_auth=<user_auth>  Your email.
    --password=<password>
    --jwt=<jwt>              Your session JWT.
    --sort=<sort>            Feed sort option [default: All].
    --pages=<pages>          Fetch this many feed pages then exit [default: 1].
    --caption=<caption>
    --image=<image>          Path to the post image.
    --location=<location>
    --tags=<tags>            Comma separated tags.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SnapCtlVersion)
	if err != nil {
		panic(err)
	}

	if signup_, _ := opts.Bool("signup"); signup_ {
		signup(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		search(opts)
	} else if people_, _ := opts.Bool("people"); people_ {
		people(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if save_, _ := opts.Bool("save"); save_ {
		save(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	}
}

func newApi(opts docopt.Opts) *client.StoreApi {
	storeUrl := "https://store.snapgram.com"
	if storeUrl_, err := opts.String("--store_url"); err == nil && storeUrl_ != "" {
		storeUrl = storeUrl_
	}
	projectId, _ := opts.String("--project")
	api := client.NewStoreApi(storeUrl, projectId)
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		api.SetSessionJwt(jwt)
	}
	return api
}

func newSession(opts docopt.Opts) (*client.StoreApi, *client.QueryCache, *client.User) {
	api := newApi(opts)
	cache := client.NewQueryCache(context.Background())
	currentUser, err := client.FetchCurrentUser(context.Background(), api, cache)
	if err != nil {
		Err.Fatalf("Could not resolve the current user: %s", err)
	}
	return api, cache, currentUser
}

func signup(opts docopt.Opts) {
	api := newApi(opts)

	name, _ := opts.String("--name")
	username, _ := opts.String("--username")
	userAuth, _ := opts.String("--user_auth")
	password, _ := opts.String("--password")

	user, err := client.Signup(context.Background(), api, &client.SignupArgs{
		Name:     name,
		Username: username,
		Email:    userAuth,
		Password: password,
	})
	if err != nil {
		Err.Fatalf("Signup failed: %s", err)
	}
	Out.Printf("%s (%s)", user.Username, user.UserId)
}

func login(opts docopt.Opts) {
	api := newApi(opts)

	userAuth, _ := opts.String("--user_auth")
	password, _ := opts.String("--password")

	session, err := client.Signin(context.Background(), api, userAuth, password)
	if err != nil {
		Err.Fatalf("Login failed: %s", err)
	}
	if sessionJwt, err := client.ParseSessionJwtUnverified(session.Jwt); err == nil {
		expireTime := time.Unix(sessionJwt.ExpiresAt, 0)
		Err.Printf("Session for account %s expires %s", sessionJwt.AccountId, expireTime)
	}
	Out.Printf("%s", session.Jwt)
}

func feed(opts docopt.Opts) {
	api, cache, currentUser := newSession(opts)

	sort, _ := opts.String("--sort")
	pages, err := opts.Int("--pages")
	if err != nil || pages < 1 {
		pages = 1
	}

	composer := client.NewFeedComposer(client.NewRecentPostsQuery(api, cache))
	composer.SetSortOption(client.FeedSortOption(sort))

	ctx := context.Background()
	for i := 0; i < pages; i += 1 {
		if err := composer.SentinelVisible(ctx); err != nil {
			Err.Fatalf("Feed fetch failed: %s", err)
		}
	}

	engagement := client.NewEngagement(ctx, api, cache, currentUser.UserId)
	for _, post := range composer.View() {
		liked := " "
		if engagement.IsLiked(post) {
			liked = "*"
		}
		Out.Printf(
			"%s [%s] %d likes %d saves: %s",
			post.CreatedAt.Format(time.DateTime),
			liked,
			post.LikeCount(),
			post.SaveCount(),
			post.Caption,
		)
	}
}

func search(opts docopt.Opts) {
	api, cache, _ := newSession(opts)

	query, _ := opts.String("<query>")

	settings := client.DefaultSearchSettings()
	postSearch := client.NewPostSearch(context.Background(), api, cache, settings)
	defer postSearch.Close()

	done := make(chan struct{})
	postSearch.AddSearchCallback(func(query string, state client.SearchState) {
		switch state {
		case client.SearchStateEmpty, client.SearchStateResults:
			close(done)
		}
	})
	postSearch.SetQuery(query)
	<-done

	state, posts := postSearch.Results()
	if state == client.SearchStateEmpty {
		Out.Printf("No results for %q", query)
		return
	}
	for _, post := range posts {
		Out.Printf("%s: %s", post.PostId, post.Caption)
	}
}

func people(opts docopt.Opts) {
	api, cache, _ := newSession(opts)

	users, err := client.FetchTopFollowedUsers(context.Background(), api, cache, 10)
	if err != nil {
		Err.Fatalf("People fetch failed: %s", err)
	}
	for _, user := range users {
		Out.Printf("%s (%d followers)", user.Username, user.FollowerCount())
	}
}

func like(opts docopt.Opts) {
	api, cache, currentUser := newSession(opts)

	postIdStr, _ := opts.String("<post_id>")
	postId, err := client.ParseId(postIdStr)
	if err != nil {
		Err.Fatalf("Bad post id: %s", err)
	}

	ctx := context.Background()
	post, err := client.FetchPostById(ctx, api, cache, postId)
	if err != nil {
		Err.Fatalf("Post fetch failed: %s", err)
	}
	if post == nil {
		Err.Fatalf("Post not found.")
	}

	engagement := client.NewEngagement(ctx, api, cache, currentUser.UserId)
	likes, err := engagement.ToggleLike(ctx, post)
	if err != nil {
		Err.Fatalf("Like failed: %s", err)
	}
	Out.Printf("%d likes", len(likes))
}

func save(opts docopt.Opts) {
	api, cache, currentUser := newSession(opts)

	postIdStr, _ := opts.String("<post_id>")
	postId, err := client.ParseId(postIdStr)
	if err != nil {
		Err.Fatalf("Bad post id: %s", err)
	}

	ctx := context.Background()
	engagement := client.NewEngagement(ctx, api, cache, currentUser.UserId)
	if err := engagement.ToggleSave(ctx, postId); err != nil {
		Err.Fatalf("Save failed: %s", err)
	}
	Out.Printf("OK")
}

func follow(opts docopt.Opts) {
	api, cache, currentUser := newSession(opts)

	userIdStr, _ := opts.String("<user_id>")
	userId, err := client.ParseId(userIdStr)
	if err != nil {
		Err.Fatalf("Bad user id: %s", err)
	}

	ctx := context.Background()
	engagement := client.NewEngagement(ctx, api, cache, currentUser.UserId)
	if err := engagement.ToggleFollow(ctx, userId); err != nil {
		Err.Fatalf("Follow failed: %s", err)
	}
	Out.Printf("OK")
}

func post(opts docopt.Opts) {
	api, cache, currentUser := newSession(opts)

	caption, _ := opts.String("--caption")
	imagePath, _ := opts.String("--image")
	location, _ := opts.String("--location")
	tags, _ := opts.String("--tags")

	image, err := os.ReadFile(imagePath)
	if err != nil {
		Err.Fatalf("Could not read image: %s", err)
	}

	created, err := client.CreatePost(context.Background(), api, cache, currentUser.UserId, &client.CreatePostArgs{
		Caption:   caption,
		Location:  location,
		Tags:      tags,
		ImageName: fmt.Sprintf("%s.img", currentUser.Username),
		Image:     image,
	})
	if err != nil {
		Err.Fatalf("Post failed: %s", err)
	}
	Out.Printf("%s", created.PostId)
}
