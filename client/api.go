package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// a remote call the store rejected. carries the original status and message
type StoreError struct {
	Status  int
	Message string
}

func (self *StoreError) Error() string {
	return fmt.Sprintf("store error (%d): %s", self.Status, self.Message)
}

var ErrNotFound = errors.New("not found")

// the document or file does not exist at the store
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var ErrUnauthenticated = errors.New("unauthenticated")

// query directives for list operations, applied in order
type Query struct {
	Method    string   `json:"method"`
	Attribute string   `json:"attribute,omitempty"`
	Values    []string `json:"values,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func EqualQuery(attribute string, values ...string) *Query {
	return &Query{Method: "equal", Attribute: attribute, Values: values}
}

func ContainsQuery(attribute string, value string) *Query {
	return &Query{Method: "contains", Attribute: attribute, Values: []string{value}}
}

func SearchQuery(attribute string, value string) *Query {
	return &Query{Method: "search", Attribute: attribute, Values: []string{value}}
}

func OrderDescQuery(attribute string) *Query {
	return &Query{Method: "orderDesc", Attribute: attribute}
}

func LimitQuery(limit int) *Query {
	return &Query{Method: "limit", Limit: limit}
}

func CursorAfterQuery(documentId Id) *Query {
	return &Query{Method: "cursorAfter", Values: []string{documentId.String()}}
}

// list envelope from the store
type DocumentList[T any] struct {
	Total     int `json:"total"`
	Documents []T `json:"documents"`
}

// the file reference returned by an upload
type FileRef struct {
	FileId Id     `json:"$id"`
	Name   string `json:"name"`
}

// StoreApi wraps all calls to the hosted document store.
// pure request/response: no caching, no retries.
type StoreApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	storeUrl  string
	projectId string

	sessionJwt string
}

func NewStoreApi(storeUrl string, projectId string) *StoreApi {
	return NewStoreApiWithContext(context.Background(), storeUrl, projectId)
}

func NewStoreApiWithContext(ctx context.Context, storeUrl string, projectId string) *StoreApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &StoreApi{
		ctx:       cancelCtx,
		cancel:    cancel,
		storeUrl:  storeUrl,
		projectId: projectId,
	}
}

// this gets attached to api calls that need it
func (self *StoreApi) SetSessionJwt(sessionJwt string) {
	self.sessionJwt = sessionJwt
}

func (self *StoreApi) SessionJwt() string {
	return self.sessionJwt
}

func (self *StoreApi) Close() {
	self.cancel()
}

// documents

func documentsUrl(api *StoreApi, collection string) string {
	return fmt.Sprintf("%s/v1/collections/%s/documents", api.storeUrl, collection)
}

func documentUrl(api *StoreApi, collection string, documentId Id) string {
	return fmt.Sprintf("%s/v1/collections/%s/documents/%s", api.storeUrl, collection, documentId)
}

func listUrl(api *StoreApi, collection string, queries []*Query) string {
	base := documentsUrl(api, collection)
	if len(queries) == 0 {
		return base
	}
	values := url.Values{}
	for _, query := range queries {
		queryJson, err := json.Marshal(query)
		if err != nil {
			continue
		}
		values.Add("queries", string(queryJson))
	}
	return fmt.Sprintf("%s?%s", base, values.Encode())
}

func listDocuments[T any](api *StoreApi, collection string, queries []*Query, callback apiCallback[*DocumentList[T]]) (*DocumentList[T], error) {
	return get(
		api.ctx,
		listUrl(api, collection, queries),
		api,
		&DocumentList[T]{},
		callback,
	)
}

func getDocument[T any](api *StoreApi, collection string, documentId Id, callback apiCallback[T]) (T, error) {
	var result T
	return get(
		api.ctx,
		documentUrl(api, collection, documentId),
		api,
		result,
		callback,
	)
}

func createDocument[T any](api *StoreApi, collection string, documentId Id, fields any, callback apiCallback[T]) (T, error) {
	var result T
	if documentId.IsZero() {
		documentId = NewId()
	}
	args := map[string]any{
		"documentId": documentId.String(),
		"data":       fields,
	}
	return request(
		api.ctx,
		"POST",
		documentsUrl(api, collection),
		args,
		api,
		result,
		callback,
	)
}

func updateDocument[T any](api *StoreApi, collection string, documentId Id, fields any, callback apiCallback[T]) (T, error) {
	var result T
	args := map[string]any{
		"data": fields,
	}
	return request(
		api.ctx,
		"PATCH",
		documentUrl(api, collection, documentId),
		args,
		api,
		result,
		callback,
	)
}

type DeleteResult struct {
	Status string `json:"status"`
}

func deleteDocument(api *StoreApi, collection string, documentId Id, callback apiCallback[*DeleteResult]) (*DeleteResult, error) {
	return request(
		api.ctx,
		"DELETE",
		documentUrl(api, collection, documentId),
		nil,
		api,
		&DeleteResult{},
		callback,
	)
}

// posts

type ListPostsCallback = apiCallback[*DocumentList[*Post]]

func (self *StoreApi) ListPosts(queries []*Query, callback ListPostsCallback) {
	go listDocuments[*Post](self, CollectionPosts, queries, callback)
}

func (self *StoreApi) ListPostsSync(queries []*Query) (*DocumentList[*Post], error) {
	return listDocuments[*Post](self, CollectionPosts, queries, NewNoopApiCallback[*DocumentList[*Post]]())
}

type GetPostCallback = apiCallback[*Post]

func (self *StoreApi) GetPost(postId Id, callback GetPostCallback) {
	go getDocument[*Post](self, CollectionPosts, postId, callback)
}

func (self *StoreApi) GetPostSync(postId Id) (*Post, error) {
	return getDocument[*Post](self, CollectionPosts, postId, NewNoopApiCallback[*Post]())
}

type PostFields struct {
	Creator  string   `json:"creator"`
	Caption  string   `json:"caption"`
	ImageId  string   `json:"imageId"`
	ImageUrl string   `json:"imageUrl"`
	Location string   `json:"location,omitempty"`
	Tags     []string `json:"tags"`
}

func (self *StoreApi) CreatePostSync(fields *PostFields) (*Post, error) {
	return createDocument[*Post](self, CollectionPosts, Id{}, fields, NewNoopApiCallback[*Post]())
}

func (self *StoreApi) UpdatePostSync(postId Id, fields any) (*Post, error) {
	return updateDocument[*Post](self, CollectionPosts, postId, fields, NewNoopApiCallback[*Post]())
}

// replace-set-on-write: the entire resulting likes set is persisted
type PostLikesFields struct {
	Likes []Id `json:"likes"`
}

func (self *StoreApi) UpdatePostLikesSync(postId Id, likes []Id) (*Post, error) {
	fields := &PostLikesFields{
		Likes: likes,
	}
	return updateDocument[*Post](self, CollectionPosts, postId, fields, NewNoopApiCallback[*Post]())
}

func (self *StoreApi) DeletePostSync(postId Id) (*DeleteResult, error) {
	return deleteDocument(self, CollectionPosts, postId, NewNoopApiCallback[*DeleteResult]())
}

// users

type ListUsersCallback = apiCallback[*DocumentList[*User]]

func (self *StoreApi) ListUsers(queries []*Query, callback ListUsersCallback) {
	go listDocuments[*User](self, CollectionUsers, queries, callback)
}

func (self *StoreApi) ListUsersSync(queries []*Query) (*DocumentList[*User], error) {
	return listDocuments[*User](self, CollectionUsers, queries, NewNoopApiCallback[*DocumentList[*User]]())
}

type GetUserCallback = apiCallback[*User]

func (self *StoreApi) GetUser(userId Id, callback GetUserCallback) {
	go getDocument[*User](self, CollectionUsers, userId, callback)
}

func (self *StoreApi) GetUserSync(userId Id) (*User, error) {
	return getDocument[*User](self, CollectionUsers, userId, NewNoopApiCallback[*User]())
}

type UserFields struct {
	AccountId string `json:"accountId"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	ImageUrl  string `json:"imageUrl"`
}

func (self *StoreApi) CreateUserSync(fields *UserFields) (*User, error) {
	return createDocument[*User](self, CollectionUsers, Id{}, fields, NewNoopApiCallback[*User]())
}

func (self *StoreApi) UpdateUserSync(userId Id, fields any) (*User, error) {
	return updateDocument[*User](self, CollectionUsers, userId, fields, NewNoopApiCallback[*User]())
}

// saves

func (self *StoreApi) ListSavesSync(queries []*Query) (*DocumentList[*Save], error) {
	return listDocuments[*Save](self, CollectionSaves, queries, NewNoopApiCallback[*DocumentList[*Save]]())
}

type SaveFields struct {
	User string `json:"user"`
	Post string `json:"post"`
}

func (self *StoreApi) CreateSaveSync(userId Id, postId Id) (*Save, error) {
	fields := &SaveFields{
		User: userId.String(),
		Post: postId.String(),
	}
	return createDocument[*Save](self, CollectionSaves, Id{}, fields, NewNoopApiCallback[*Save]())
}

func (self *StoreApi) DeleteSaveSync(saveId Id) (*DeleteResult, error) {
	return deleteDocument(self, CollectionSaves, saveId, NewNoopApiCallback[*DeleteResult]())
}

// follows

func (self *StoreApi) ListFollowsSync(queries []*Query) (*DocumentList[*Follow], error) {
	return listDocuments[*Follow](self, CollectionFollows, queries, NewNoopApiCallback[*DocumentList[*Follow]]())
}

type FollowFields struct {
	FollowerId string `json:"userId"`
	FollowedId string `json:"followingUserId"`
}

func (self *StoreApi) CreateFollowSync(followerId Id, followedId Id) (*Follow, error) {
	fields := &FollowFields{
		FollowerId: followerId.String(),
		FollowedId: followedId.String(),
	}
	return createDocument[*Follow](self, CollectionFollows, Id{}, fields, NewNoopApiCallback[*Follow]())
}

func (self *StoreApi) DeleteFollowSync(followId Id) (*DeleteResult, error) {
	return deleteDocument(self, CollectionFollows, followId, NewNoopApiCallback[*DeleteResult]())
}

// storage

func (self *StoreApi) UploadFileSync(name string, content []byte) (*FileRef, error) {
	fileUrl := fmt.Sprintf(
		"%s/v1/storage/%s/files?fileId=%s&name=%s",
		self.storeUrl,
		BucketMedia,
		NewId(),
		url.QueryEscape(name),
	)
	return upload(self.ctx, fileUrl, content, self, &FileRef{})
}

type ImageGravity string

const (
	ImageGravityTop    ImageGravity = "top"
	ImageGravityCenter ImageGravity = "center"
)

// derived locally from the file id. no remote call.
func (self *StoreApi) GetFilePreviewUrl(fileId Id, width int, height int, gravity ImageGravity, quality int) string {
	return fmt.Sprintf(
		"%s/v1/storage/%s/files/%s/preview?width=%d&height=%d&gravity=%s&quality=%d",
		self.storeUrl,
		BucketMedia,
		fileId,
		width,
		height,
		gravity,
		quality,
	)
}

func (self *StoreApi) DeleteFileSync(fileId Id) (*DeleteResult, error) {
	fileUrl := fmt.Sprintf("%s/v1/storage/%s/files/%s", self.storeUrl, BucketMedia, fileId)
	return request(
		self.ctx,
		"DELETE",
		fileUrl,
		nil,
		self,
		&DeleteResult{},
		NewNoopApiCallback[*DeleteResult](),
	)
}

// auth

type CreateAccountArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (self *StoreApi) CreateAccountSync(createAccount *CreateAccountArgs) (*Account, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/v1/account", self.storeUrl),
		createAccount,
		self,
		&Account{},
		NewNoopApiCallback[*Account](),
	)
}

type CreateSessionArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateSessionCallback = apiCallback[*Session]

func (self *StoreApi) CreateEmailSession(createSession *CreateSessionArgs, callback CreateSessionCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/v1/account/sessions", self.storeUrl),
		createSession,
		self,
		&Session{},
		callback,
	)
}

func (self *StoreApi) CreateEmailSessionSync(createSession *CreateSessionArgs) (*Session, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/v1/account/sessions", self.storeUrl),
		createSession,
		self,
		&Session{},
		NewNoopApiCallback[*Session](),
	)
}

func (self *StoreApi) DeleteSessionSync() (*DeleteResult, error) {
	return request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/v1/account/sessions/current", self.storeUrl),
		nil,
		self,
		&DeleteResult{},
		NewNoopApiCallback[*DeleteResult](),
	)
}

func (self *StoreApi) GetAccountSync() (*Account, error) {
	account, err := get(
		self.ctx,
		fmt.Sprintf("%s/v1/account", self.storeUrl),
		self,
		&Account{},
		NewNoopApiCallback[*Account](),
	)
	var storeErr *StoreError
	if errors.As(err, &storeErr) && storeErr.Status == http.StatusUnauthorized {
		return nil, ErrUnauthenticated
	}
	return account, err
}

// transport helpers

func addHeaders(req *http.Request, api *StoreApi) {
	req.Header.Add("X-Store-Project", api.projectId)
	if api.sessionJwt != "" {
		auth := fmt.Sprintf("Bearer %s", api.sessionJwt)
		req.Header.Add("Authorization", auth)
	}
}

func responseError(statusCode int, responseBodyBytes []byte) error {
	if statusCode == http.StatusNotFound {
		return ErrNotFound
	}
	// the response body carries the error envelope
	envelope := &struct {
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(responseBodyBytes, envelope); err != nil || envelope.Message == "" {
		envelope.Message = strings.TrimSpace(string(responseBodyBytes))
	}
	return &StoreError{
		Status:  statusCode,
		Message: envelope.Message,
	}
}

func request[R any](ctx context.Context, method string, url string, args any, api *StoreApi, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	addHeaders(req, api)

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		var empty R
		err = responseError(r.StatusCode, responseBodyBytes)
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if len(responseBodyBytes) > 0 {
		err = json.Unmarshal(responseBodyBytes, &result)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	callback.Result(result, nil)
	return result, nil
}

func get[R any](ctx context.Context, url string, api *StoreApi, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	addHeaders(req, api)

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(r.Body)
	r.Body.Close()

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		var empty R
		err = responseError(r.StatusCode, responseBodyBytes)
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func upload[R any](ctx context.Context, url string, content []byte, api *StoreApi, result R) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(content))
	if err != nil {
		var empty R
		return empty, err
	}

	req.Header.Add("Content-Type", "application/octet-stream")
	addHeaders(req, api)

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		var empty R
		return empty, responseError(r.StatusCode, responseBodyBytes)
	}

	if err != nil {
		var empty R
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		return empty, err
	}

	return result, nil
}
