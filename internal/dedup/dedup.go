// Package dedup coalesces concurrent identical requests into a single
// upstream call, fanning the result out to every waiter.
package dedup

import (
	"fmt"
	"sync"
)

// call is one in-flight request. At most one call exists per key at
// any time; all waiters block on done and observe the same val/err.
type call struct {
	done    chan struct{}
	val     interface{}
	err     error
	waiters int
}

// Group deduplicates work by key.
type Group struct {
	mu    sync.Mutex
	calls map[string]*call

	executed  int64
	coalesced int64
}

// Stats is the operator-facing deduplication snapshot.
type Stats struct {
	Executed  int64 `json:"executed"`
	Coalesced int64 `json:"coalesced"`
	InFlight  int   `json:"in_flight"`
}

// New creates an empty Group.
func New() *Group {
	return &Group{calls: make(map[string]*call)}
}

// Do runs fn exactly once per key across all concurrent callers.
// Late callers wait for the in-flight call and receive its outcome;
// shared reports whether the result came from another caller's
// invocation. A panic in fn is converted to an error so waiters are
// never stranded.
func (g *Group) Do(key string, fn func() (interface{}, error)) (v interface{}, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		c.waiters++
		g.coalesced++
		g.mu.Unlock()
		<-c.done
		return c.val, true, c.err
	}

	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	g.executed++
	g.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("request producer panicked: %v", r)
			}
		}()
		c.val, c.err = fn()
	}()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(c.done)

	return c.val, false, c.err
}

// Stats returns a snapshot of deduplication counters.
func (g *Group) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Executed:  g.executed,
		Coalesced: g.coalesced,
		InFlight:  len(g.calls),
	}
}
