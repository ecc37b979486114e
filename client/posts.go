package client

import (
	"context"
	"errors"

	"github.com/golang/glog"
)

// acting user is not the resource owner. the UI hides destructive controls
// for non-owners, this is the submission-time re-check.
var ErrPermissionDenied = errors.New("permission denied")

const (
	previewWidth   = 2000
	previewHeight  = 2000
	previewQuality = 35
)

// FetchPostById reads a post through the cache.
// a deleted post resolves to (nil, nil): the caller renders "not found".
func FetchPostById(ctx context.Context, api *StoreApi, cache *QueryCache, postId Id) (*Post, error) {
	post, err := ReadCached(cache, ctx, NewQueryKeyWithId(OpGetPostById, postId), func(ctx context.Context) (*Post, error) {
		return api.GetPostSync(postId)
	})
	if IsNotFound(err) {
		return nil, nil
	}
	return post, err
}

type CreatePostArgs struct {
	Caption   string
	Location  string
	Tags      string
	ImageName string
	Image     []byte
}

func postFeedInvalidates() []QueryKey {
	return []QueryKey{
		NewQueryKey(OpGetInfinitePosts),
		NewQueryKey(OpGetInfiniteUserPosts),
		NewQueryKey(OpGetInfiniteUserLikedPosts),
	}
}

// CreatePost uploads the image then creates the post document.
// if the document create fails, the uploaded file is deleted so the bucket
// holds no orphans.
func CreatePost(ctx context.Context, api *StoreApi, cache *QueryCache, creatorId Id, createPost *CreatePostArgs) (*Post, error) {
	if fieldErrors := ValidatePostForm(createPost.Caption, createPost.Location); len(fieldErrors) != 0 {
		return nil, fieldErrors[0]
	}

	fileRef, err := api.UploadFileSync(createPost.ImageName, createPost.Image)
	if err != nil {
		return nil, err
	}
	imageUrl := api.GetFilePreviewUrl(fileRef.FileId, previewWidth, previewHeight, ImageGravityTop, previewQuality)

	post, err := Mutate(cache, ctx, func(ctx context.Context) (*Post, error) {
		return api.CreatePostSync(&PostFields{
			Creator:  creatorId.String(),
			Caption:  createPost.Caption,
			ImageId:  fileRef.FileId.String(),
			ImageUrl: imageUrl,
			Location: createPost.Location,
			Tags:     ParseTags(createPost.Tags),
		})
	}, postFeedInvalidates()...)
	if err != nil {
		// compensate the completed upload
		if _, deleteErr := api.DeleteFileSync(fileRef.FileId); deleteErr != nil {
			glog.Infof("[posts]orphaned file %s = %s\n", fileRef.FileId, deleteErr)
		}
		return nil, err
	}
	return post, nil
}

type EditPostArgs struct {
	PostId   Id
	Caption  string
	Location string
	Tags     string
	// when set, replaces the post image
	ImageName string
	Image     []byte
}

type postContentFields struct {
	Caption  string   `json:"caption"`
	ImageId  string   `json:"imageId"`
	ImageUrl string   `json:"imageUrl"`
	Location string   `json:"location"`
	Tags     []string `json:"tags"`
}

// EditPost updates a post, optionally replacing its image atomically:
// the new file is uploaded first, the document is switched to it, and the
// old file is deleted only after the update is confirmed. on update failure
// the new upload is deleted instead.
func EditPost(ctx context.Context, api *StoreApi, cache *QueryCache, currentUserId Id, post *Post, editPost *EditPostArgs) (*Post, error) {
	if currentUserId != post.CreatorId {
		return nil, ErrPermissionDenied
	}
	if fieldErrors := ValidatePostForm(editPost.Caption, editPost.Location); len(fieldErrors) != 0 {
		return nil, fieldErrors[0]
	}

	imageId := post.ImageId
	imageUrl := post.ImageUrl
	hasNewImage := len(editPost.Image) != 0
	if hasNewImage {
		fileRef, err := api.UploadFileSync(editPost.ImageName, editPost.Image)
		if err != nil {
			return nil, err
		}
		imageId = fileRef.FileId
		imageUrl = api.GetFilePreviewUrl(fileRef.FileId, previewWidth, previewHeight, ImageGravityTop, previewQuality)
	}

	editedPost, err := Mutate(cache, ctx, func(ctx context.Context) (*Post, error) {
		return api.UpdatePostSync(post.PostId, &postContentFields{
			Caption:  editPost.Caption,
			ImageId:  imageId.String(),
			ImageUrl: imageUrl,
			Location: editPost.Location,
			Tags:     ParseTags(editPost.Tags),
		})
	}, NewQueryKeyWithId(OpGetPostById, post.PostId))
	if err != nil {
		if hasNewImage {
			if _, deleteErr := api.DeleteFileSync(imageId); deleteErr != nil {
				glog.Infof("[posts]orphaned file %s = %s\n", imageId, deleteErr)
			}
		}
		return nil, err
	}

	if hasNewImage {
		if _, deleteErr := api.DeleteFileSync(post.ImageId); deleteErr != nil {
			glog.Infof("[posts]orphaned replaced file %s = %s\n", post.ImageId, deleteErr)
		}
	}
	return editedPost, nil
}

// DeletePost deletes the post document, its image, and cascades to the
// post's save records
func DeletePost(ctx context.Context, api *StoreApi, cache *QueryCache, currentUserId Id, post *Post) error {
	if currentUserId != post.CreatorId {
		return ErrPermissionDenied
	}

	_, err := Mutate(cache, ctx, func(ctx context.Context) (*DeleteResult, error) {
		return api.DeletePostSync(post.PostId)
	},
		NewQueryKey(OpGetInfinitePosts),
		NewQueryKey(OpGetPostById),
		NewQueryKey(OpGetInfiniteUserPosts),
		NewQueryKey(OpGetInfiniteUserLikedPosts),
	)
	if err != nil {
		return err
	}

	if _, err := api.DeleteFileSync(post.ImageId); err != nil {
		glog.Infof("[posts]orphaned file %s = %s\n", post.ImageId, err)
	}

	return DeleteSavesByPostId(ctx, api, cache, post.PostId)
}

// DeleteSavesByPostId removes every save record referencing a post.
// called when the post itself is deleted.
func DeleteSavesByPostId(ctx context.Context, api *StoreApi, cache *QueryCache, postId Id) error {
	saveList, err := api.ListSavesSync([]*Query{
		EqualQuery("post", postId.String()),
	})
	if err != nil {
		return err
	}

	_, err = Mutate(cache, ctx, func(ctx context.Context) (any, error) {
		for _, save := range saveList.Documents {
			if _, err := api.DeleteSaveSync(save.SaveId); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, NewQueryKey(OpGetCurrentUser))
	return err
}
