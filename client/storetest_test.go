package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// an in-memory document store served over loopback http.
// speaks the same wire contract as the hosted store: list envelopes,
// query directives, join back-references on user and post documents,
// the error envelope, and bearer session auth.

type testAccount struct {
	accountId Id
	name      string
	email     string
	password  string
}

type testStore struct {
	server *httptest.Server

	stateLock   sync.Mutex
	collections map[string][]map[string]any
	accounts    map[Id]*testAccount
	sessionJwts map[string]Id
	files       map[Id]string

	// respond with a 500 to the next `failCount` requests whose path
	// contains `failPath`
	failPath  string
	failCount int
}

func newTestStore() *testStore {
	store := &testStore{
		collections: map[string][]map[string]any{},
		accounts:    map[Id]*testAccount{},
		sessionJwts: map[string]Id{},
		files:       map[Id]string{},
	}
	store.server = httptest.NewServer(http.HandlerFunc(store.handle))
	return store
}

func (self *testStore) Close() {
	self.server.Close()
}

func (self *testStore) Api() *StoreApi {
	return NewStoreApi(self.server.URL, "test-project")
}

func (self *testStore) failNext(path string, count int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.failPath = path
	self.failCount = count
}

// fixtures

func (self *testStore) addAccount(name string, email string, password string) Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	account := &testAccount{
		accountId: NewId(),
		name:      name,
		email:     email,
		password:  password,
	}
	self.accounts[account.accountId] = account
	return account.accountId
}

func (self *testStore) addDocument(collection string, doc map[string]any) Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.insertDocument(collection, doc)
}

func (self *testStore) insertDocument(collection string, doc map[string]any) Id {
	documentId := NewId()
	if idStr, ok := doc["$id"].(string); ok {
		documentId = RequireParseId(idStr)
	} else {
		doc["$id"] = documentId.String()
	}
	if _, ok := doc["$createdAt"]; !ok {
		doc["$createdAt"] = time.Now().UTC()
	}
	self.collections[collection] = append(self.collections[collection], doc)
	return documentId
}

func (self *testStore) addUser(accountId Id, name string, username string) Id {
	return self.addDocument(CollectionUsers, map[string]any{
		"accountId": accountId.String(),
		"name":      name,
		"username":  username,
		"email":     fmt.Sprintf("%s@test", username),
		"imageUrl":  "",
	})
}

func (self *testStore) addPost(creatorId Id, caption string, createdAt time.Time, likes []Id) Id {
	likeStrs := []any{}
	for _, likerId := range likes {
		likeStrs = append(likeStrs, likerId.String())
	}
	return self.addDocument(CollectionPosts, map[string]any{
		"creator":    creatorId.String(),
		"caption":    caption,
		"imageId":    NewId().String(),
		"imageUrl":   "",
		"tags":       []any{},
		"likes":      likeStrs,
		"$createdAt": createdAt,
	})
}

func (self *testStore) addSave(userId Id, postId Id) Id {
	return self.addDocument(CollectionSaves, map[string]any{
		"user": userId.String(),
		"post": postId.String(),
	})
}

func (self *testStore) addFollow(followerId Id, followedId Id) Id {
	return self.addDocument(CollectionFollows, map[string]any{
		"userId":          followerId.String(),
		"followingUserId": followedId.String(),
	})
}

func (self *testStore) documentCount(collection string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.collections[collection])
}

func (self *testStore) fileCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.files)
}

func (self *testStore) document(collection string, documentId Id) map[string]any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, doc := range self.collections[collection] {
		if doc["$id"] == documentId.String() {
			return doc
		}
	}
	return nil
}

// http

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJson(w, status, map[string]any{
		"message": message,
	})
}

func (self *testStore) handle(w http.ResponseWriter, r *http.Request) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if 0 < self.failCount && strings.Contains(r.URL.Path, self.failPath) {
		self.failCount -= 1
		writeError(w, http.StatusInternalServerError, "injected failure")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "no route")
		return
	}

	switch parts[1] {
	case "account":
		self.handleAccount(w, r, parts)
	case "collections":
		self.handleCollections(w, r, parts)
	case "storage":
		self.handleStorage(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

func (self *testStore) bearerAccount(r *http.Request) *testAccount {
	auth := r.Header.Get("Authorization")
	jwt, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return nil
	}
	accountId, ok := self.sessionJwts[jwt]
	if !ok {
		return nil
	}
	return self.accounts[accountId]
}

func (self *testStore) handleAccount(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 2 && r.Method == "POST":
		args := &CreateAccountArgs{}
		json.NewDecoder(r.Body).Decode(args)
		account := &testAccount{
			accountId: NewId(),
			name:      args.Name,
			email:     args.Email,
			password:  args.Password,
		}
		self.accounts[account.accountId] = account
		writeJson(w, http.StatusCreated, map[string]any{
			"$id":   account.accountId.String(),
			"name":  account.name,
			"email": account.email,
		})
	case len(parts) == 2 && r.Method == "GET":
		account := self.bearerAccount(r)
		if account == nil {
			writeError(w, http.StatusUnauthorized, "no session")
			return
		}
		writeJson(w, http.StatusOK, map[string]any{
			"$id":   account.accountId.String(),
			"name":  account.name,
			"email": account.email,
		})
	case len(parts) == 3 && parts[2] == "sessions" && r.Method == "POST":
		args := &CreateSessionArgs{}
		json.NewDecoder(r.Body).Decode(args)
		for _, account := range self.accounts {
			if account.email == args.Email && account.password == args.Password {
				jwt := NewId().String()
				self.sessionJwts[jwt] = account.accountId
				writeJson(w, http.StatusCreated, map[string]any{
					"$id":    NewId().String(),
					"userId": account.accountId.String(),
					"jwt":    jwt,
				})
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "bad credentials")
	case len(parts) == 4 && parts[2] == "sessions" && r.Method == "DELETE":
		auth := r.Header.Get("Authorization")
		if jwt, ok := strings.CutPrefix(auth, "Bearer "); ok {
			delete(self.sessionJwts, jwt)
		}
		writeJson(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

func (self *testStore) handleCollections(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 4 || parts[3] != "documents" {
		writeError(w, http.StatusNotFound, "no route")
		return
	}
	collection := parts[2]

	switch {
	case len(parts) == 4 && r.Method == "GET":
		queries := []*Query{}
		for _, queryJson := range r.URL.Query()["queries"] {
			query := &Query{}
			if err := json.Unmarshal([]byte(queryJson), query); err == nil {
				queries = append(queries, query)
			}
		}
		docs := self.list(collection, queries)
		rendered := []map[string]any{}
		for _, doc := range docs {
			rendered = append(rendered, self.render(collection, doc))
		}
		writeJson(w, http.StatusOK, map[string]any{
			"total":     len(rendered),
			"documents": rendered,
		})
	case len(parts) == 4 && r.Method == "POST":
		args := &struct {
			DocumentId string         `json:"documentId"`
			Data       map[string]any `json:"data"`
		}{}
		json.NewDecoder(r.Body).Decode(args)
		doc := args.Data
		if doc == nil {
			doc = map[string]any{}
		}
		doc["$id"] = args.DocumentId
		self.insertDocument(collection, doc)
		writeJson(w, http.StatusCreated, self.render(collection, doc))
	case len(parts) == 5:
		documentId := parts[4]
		index := -1
		for i, doc := range self.collections[collection] {
			if doc["$id"] == documentId {
				index = i
				break
			}
		}
		if index < 0 {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		doc := self.collections[collection][index]
		switch r.Method {
		case "GET":
			writeJson(w, http.StatusOK, self.render(collection, doc))
		case "PATCH":
			args := &struct {
				Data map[string]any `json:"data"`
			}{}
			json.NewDecoder(r.Body).Decode(args)
			for attribute, value := range args.Data {
				doc[attribute] = value
			}
			writeJson(w, http.StatusOK, self.render(collection, doc))
		case "DELETE":
			self.collections[collection] = append(
				self.collections[collection][:index],
				self.collections[collection][index+1:]...,
			)
			writeJson(w, http.StatusOK, map[string]any{"status": "ok"})
		default:
			writeError(w, http.StatusNotFound, "no route")
		}
	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

func (self *testStore) handleStorage(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 4 && parts[3] == "files" && r.Method == "POST":
		fileId := RequireParseId(r.URL.Query().Get("fileId"))
		name := r.URL.Query().Get("name")
		self.files[fileId] = name
		writeJson(w, http.StatusCreated, map[string]any{
			"$id":  fileId.String(),
			"name": name,
		})
	case len(parts) == 5 && parts[3] == "files" && r.Method == "DELETE":
		fileId, err := ParseId(parts[4])
		if err != nil {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		if _, ok := self.files[fileId]; !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		delete(self.files, fileId)
		writeJson(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

// query evaluation

func docString(doc map[string]any, attribute string) string {
	value, _ := doc[attribute].(string)
	return value
}

func docStrings(doc map[string]any, attribute string) []string {
	values := []string{}
	switch typedValue := doc[attribute].(type) {
	case []any:
		for _, item := range typedValue {
			if itemStr, ok := item.(string); ok {
				values = append(values, itemStr)
			}
		}
	case []string:
		values = append(values, typedValue...)
	}
	return values
}

func docCreatedAt(doc map[string]any) time.Time {
	switch typedValue := doc["$createdAt"].(type) {
	case time.Time:
		return typedValue
	case string:
		createdAt, _ := time.Parse(time.RFC3339Nano, typedValue)
		return createdAt
	default:
		return time.Time{}
	}
}

func matchesQuery(doc map[string]any, query *Query) bool {
	switch query.Method {
	case "equal":
		for _, value := range query.Values {
			if docString(doc, query.Attribute) == value {
				return true
			}
		}
		return false
	case "contains":
		if len(query.Values) == 0 {
			return false
		}
		value := query.Values[0]
		if items := docStrings(doc, query.Attribute); 0 < len(items) {
			for _, item := range items {
				if item == value {
					return true
				}
			}
			return false
		}
		return strings.Contains(docString(doc, query.Attribute), value)
	case "search":
		if len(query.Values) == 0 {
			return false
		}
		return strings.Contains(
			strings.ToLower(docString(doc, query.Attribute)),
			strings.ToLower(query.Values[0]),
		)
	default:
		return true
	}
}

func (self *testStore) list(collection string, queries []*Query) []map[string]any {
	docs := []map[string]any{}
	docs = append(docs, self.collections[collection]...)

	for _, query := range queries {
		switch query.Method {
		case "equal", "contains", "search":
			filtered := []map[string]any{}
			for _, doc := range docs {
				if matchesQuery(doc, query) {
					filtered = append(filtered, doc)
				}
			}
			docs = filtered
		}
	}

	for _, query := range queries {
		if query.Method == "orderDesc" && query.Attribute == "$createdAt" {
			ordered := append([]map[string]any{}, docs...)
			for i := 0; i < len(ordered); i += 1 {
				for j := i + 1; j < len(ordered); j += 1 {
					if docCreatedAt(ordered[i]).Before(docCreatedAt(ordered[j])) {
						ordered[i], ordered[j] = ordered[j], ordered[i]
					}
				}
			}
			docs = ordered
		}
	}

	for _, query := range queries {
		if query.Method == "cursorAfter" && 0 < len(query.Values) {
			after := []map[string]any{}
			found := false
			for _, doc := range docs {
				if found {
					after = append(after, doc)
				} else if doc["$id"] == query.Values[0] {
					found = true
				}
			}
			docs = after
		}
	}

	for _, query := range queries {
		if query.Method == "limit" && query.Limit < len(docs) {
			docs = docs[:query.Limit]
		}
	}

	return docs
}

// render returns a copy of the document with the store-maintained join
// back-references attached
func (self *testStore) render(collection string, doc map[string]any) map[string]any {
	rendered := map[string]any{}
	for attribute, value := range doc {
		rendered[attribute] = value
	}

	switch collection {
	case CollectionUsers:
		userId := docString(doc, "$id")
		saves := []map[string]any{}
		for _, save := range self.collections[CollectionSaves] {
			if docString(save, "user") == userId {
				saves = append(saves, save)
			}
		}
		rendered["save"] = saves
		following := []map[string]any{}
		followers := []map[string]any{}
		for _, follow := range self.collections[CollectionFollows] {
			if docString(follow, "userId") == userId {
				following = append(following, follow)
			}
			if docString(follow, "followingUserId") == userId {
				followers = append(followers, follow)
			}
		}
		rendered["following"] = following
		rendered["followers"] = followers
	case CollectionPosts:
		postId := docString(doc, "$id")
		saves := []map[string]any{}
		for _, save := range self.collections[CollectionSaves] {
			if docString(save, "post") == postId {
				saves = append(saves, save)
			}
		}
		rendered["save"] = saves
	}

	return rendered
}
