package client

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// collection names on the hosted store
const (
	CollectionUsers   = "users"
	CollectionPosts   = "posts"
	CollectionSaves   = "saves"
	CollectionFollows = "follows"
)

// storage bucket for post images and avatars
const BucketMedia = "media"

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func RequireParseId(idStr string) Id {
	id, err := ParseId(idStr)
	if err != nil {
		panic(err)
	}
	return id
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	b := buff.Bytes()
	return b, nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// documents that can act as a pagination cursor
type Document interface {
	DocumentId() Id
}

// caption and location limits are enforced client side before any write.
// the store does not validate them.
const (
	MaxCaptionLength  = 2200
	MaxLocationLength = 100
)

type Post struct {
	PostId    Id        `json:"$id"`
	CreatorId Id        `json:"creator"`
	Caption   string    `json:"caption"`
	ImageId   Id        `json:"imageId"`
	ImageUrl  string    `json:"imageUrl"`
	Location  string    `json:"location,omitempty"`
	Tags      []string  `json:"tags"`
	Likes     []Id      `json:"likes"`
	CreatedAt time.Time `json:"$createdAt"`

	// join back-reference maintained by the store
	Saves []*Save `json:"save,omitempty"`
}

func (self *Post) DocumentId() Id {
	return self.PostId
}

func (self *Post) LikeCount() int {
	return len(self.Likes)
}

func (self *Post) SaveCount() int {
	return len(self.Saves)
}

func (self *Post) LikedBy(userId Id) bool {
	for _, likerId := range self.Likes {
		if likerId == userId {
			return true
		}
	}
	return false
}

type User struct {
	UserId    Id        `json:"$id"`
	AccountId Id        `json:"accountId"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio,omitempty"`
	ImageUrl  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"$createdAt"`

	// join back-references maintained by the store
	Saves     []*Save   `json:"save,omitempty"`
	Following []*Follow `json:"following,omitempty"`
	Followers []*Follow `json:"followers,omitempty"`
}

func (self *User) DocumentId() Id {
	return self.UserId
}

func (self *User) FollowerCount() int {
	return len(self.Followers)
}

// the save record for `postId`, or nil
func (self *User) FindSave(postId Id) *Save {
	for _, save := range self.Saves {
		if save.PostId == postId {
			return save
		}
	}
	return nil
}

// the follow record for `followedId`, or nil
func (self *User) FindFollow(followedId Id) *Follow {
	for _, follow := range self.Following {
		if follow.FollowedId == followedId {
			return follow
		}
	}
	return nil
}

// join record: at most one per (user, post).
// the store does not enforce uniqueness, the engagement reconciler does.
type Save struct {
	SaveId Id `json:"$id"`
	UserId Id `json:"user"`
	PostId Id `json:"post"`
}

func (self *Save) DocumentId() Id {
	return self.SaveId
}

// join record: at most one per (follower, followed)
type Follow struct {
	FollowId   Id `json:"$id"`
	FollowerId Id `json:"userId"`
	FollowedId Id `json:"followingUserId"`
}

func (self *Follow) DocumentId() Id {
	return self.FollowId
}

// the auth account behind a user document
type Account struct {
	AccountId Id     `json:"$id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type Session struct {
	SessionId string `json:"$id"`
	AccountId Id     `json:"userId"`
	Jwt       string `json:"jwt"`
}

// normalize a free-form tags field the way the post form submits it:
// spaces stripped, split on commas, empty entries dropped
func ParseTags(tags string) []string {
	stripped := strings.ReplaceAll(tags, " ", "")
	if stripped == "" {
		return []string{}
	}
	parts := []string{}
	for _, part := range strings.Split(stripped, ",") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// usernames are stored lowercase
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
