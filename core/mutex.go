package core

import (
	"fmt"
	"sync"
)

// keyMutex hands out one mutex per key, dropping it once nobody holds or
// waits for it.
type keyMutex struct {
	mutexes map[string]*cntMutex
	mapMtx  sync.Mutex
}

type cntMutex struct {
	cnt int
	sync.Mutex
}

func newKeyMutex() *keyMutex {
	return &keyMutex{mutexes: make(map[string]*cntMutex)}
}

func (c *keyMutex) Lock(key string) {
	c.mapMtx.Lock()
	mtx, ok := c.mutexes[key]
	if ok {
		mtx.cnt++
	} else {
		mtx = &cntMutex{cnt: 1}
		c.mutexes[key] = mtx
	}
	c.mapMtx.Unlock()

	mtx.Lock()
}

func (c *keyMutex) Unlock(key string) {
	c.mapMtx.Lock()
	mtx, ok := c.mutexes[key]
	if !ok {
		panic(fmt.Sprintf("double unlock for key %q", key))
	}

	// last waiter removes the entry, later callers create a fresh one
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(c.mutexes, key)
	}
	c.mapMtx.Unlock()

	mtx.Unlock()
}

func (c *keyMutex) len() int {
	c.mapMtx.Lock()
	defer c.mapMtx.Unlock()
	return len(c.mutexes)
}
