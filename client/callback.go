package client

import (
	"sync"

	"golang.org/x/exp/maps"
)

// all callbacks are wrapped to recover from errors,
// so a misbehaving subscriber cannot take down the notifier

type callbackId = Id

// makes a copy of the callbacks on get so that callbacks
// can be added or removed while a notification is in flight
type CallbackList[T any] struct {
	mutex     sync.Mutex
	callbacks map[callbackId]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[callbackId]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Values(self.callbacks)
}

func (self *CallbackList[T]) Add(callback T) callbackId {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := NewId()
	self.callbacks[id] = callback
	return id
}

func (self *CallbackList[T]) Remove(id callbackId) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.callbacks, id)
}

func safeCallback(do func()) {
	defer func() {
		recover()
	}()
	do()
}
