package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type RealtimeSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultRealtimeSettings() *RealtimeSettings {
	return &RealtimeSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type Reconnect struct {
	timeout time.Duration
	start   time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout: timeout,
		start:   time.Now(),
	}
}

// the remaining wait so that attempts are spaced at least `timeout` apart
func (self *Reconnect) After() <-chan time.Time {
	elapsed := time.Since(self.start)
	if self.timeout <= elapsed {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return time.After(self.timeout - elapsed)
}

// a document event from the store's realtime channel
type realtimeEvent struct {
	Collection string `json:"collection"`
	DocumentId Id     `json:"documentId"`
	Verb       string `json:"verb"`
}

type realtimeAuth struct {
	Type       string `json:"type"`
	SessionJwt string `json:"sessionJwt,omitempty"`
}

// RealtimeInvalidator keeps a websocket subscription to the store's document
// events and marks the matching cache keys stale, so writes from other
// sessions reach this client without polling. if the channel is down the
// cache degrades to mutation-driven invalidation only.
type RealtimeInvalidator struct {
	ctx    context.Context
	cancel context.CancelFunc

	realtimeUrl string
	api         *StoreApi
	cache       *QueryCache

	settings *RealtimeSettings
}

func NewRealtimeInvalidatorWithDefaults(
	ctx context.Context,
	realtimeUrl string,
	api *StoreApi,
	cache *QueryCache,
) *RealtimeInvalidator {
	return NewRealtimeInvalidator(ctx, realtimeUrl, api, cache, DefaultRealtimeSettings())
}

func NewRealtimeInvalidator(
	ctx context.Context,
	realtimeUrl string,
	api *StoreApi,
	cache *QueryCache,
	settings *RealtimeSettings,
) *RealtimeInvalidator {
	cancelCtx, cancel := context.WithCancel(ctx)
	invalidator := &RealtimeInvalidator{
		ctx:         cancelCtx,
		cancel:      cancel,
		realtimeUrl: realtimeUrl,
		api:         api,
		cache:       cache,
		settings:    settings,
	}
	go invalidator.run()
	return invalidator
}

func (self *RealtimeInvalidator) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)

		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.realtimeUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			authBytes, err := json.Marshal(&realtimeAuth{
				Type:       "auth",
				SessionJwt: self.api.SessionJwt(),
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if _, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				auth := &realtimeAuth{}
				if err := json.Unmarshal(message, auth); err != nil || auth.Type != "auth" {
					return nil, fmt.Errorf("auth response error")
				}
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[rt]auth error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.PingMessage, make([]byte, 0)); err != nil {
							// a websocket deadline timeout cannot be recovered
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					messageType, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[rt]<- error = %s\n", err)
						return
					}

					switch messageType {
					case websocket.TextMessage:
						event := &realtimeEvent{}
						if err := json.Unmarshal(message, event); err != nil {
							glog.V(2).Infof("[rt]bad event <- %s\n", message)
							continue
						}
						self.invalidate(event)
					default:
						glog.V(2).Infof("[rt]other=%d <-\n", messageType)
					}
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

// invalidate maps a document event to the cached queries that could observe
// the document
func (self *RealtimeInvalidator) invalidate(event *realtimeEvent) {
	glog.V(1).Infof("[rt]%s %s %s\n", event.Verb, event.Collection, event.DocumentId)

	switch event.Collection {
	case CollectionPosts:
		self.cache.Invalidate(
			NewQueryKeyWithId(OpGetPostById, event.DocumentId),
			NewQueryKey(OpGetInfinitePosts),
			NewQueryKey(OpGetInfiniteUserPosts),
			NewQueryKey(OpGetInfiniteUserLikedPosts),
		)
	case CollectionUsers:
		self.cache.Invalidate(
			NewQueryKeyWithId(OpGetUserById, event.DocumentId),
			NewQueryKey(OpGetCurrentUser),
			NewQueryKey(OpGetTopFollowedUsers),
			NewQueryKey(OpGetInfiniteUsers),
		)
	case CollectionSaves:
		self.cache.Invalidate(
			NewQueryKey(OpGetCurrentUser),
		)
	case CollectionFollows:
		self.cache.Invalidate(
			NewQueryKey(OpGetCurrentUser),
			NewQueryKey(OpGetUserById),
			NewQueryKey(OpGetTopFollowedUsers),
		)
	}
}

func (self *RealtimeInvalidator) Close() {
	self.cancel()
}
