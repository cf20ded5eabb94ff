// Package gatewaytest provides an in-memory gateway admin API for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/superparser/gateway-control/internal/gateway"
)

// Fake stores consumers and routes in memory. Setting FailWith makes every
// call fail with that error until cleared.
type Fake struct {
	mu        sync.Mutex
	consumers map[string]gateway.Consumer
	routes    map[string]gateway.Route
	calls     map[string]int
	failWith  error
	failOps   map[string]bool
}

func NewFake() *Fake {
	return &Fake{
		consumers: make(map[string]gateway.Consumer),
		routes:    make(map[string]gateway.Route),
		calls:     make(map[string]int),
	}
}

// FailWith makes the named operations (all of them when none are given)
// return err. A nil err clears the failure.
func (f *Fake) FailWith(err error, ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
	f.failOps = nil
	if len(ops) > 0 {
		f.failOps = make(map[string]bool, len(ops))
		for _, op := range ops {
			f.failOps[op] = true
		}
	}
}

func (f *Fake) Consumer(id string) (gateway.Consumer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.consumers[id]
	return c, ok
}

// PutConsumer seeds remote state directly.
func (f *Fake) PutConsumer(c gateway.Consumer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers[c.ID] = c
}

func (f *Fake) ConsumerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.consumers)
}

func (f *Fake) Routes() map[string]gateway.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]gateway.Route, len(f.routes))
	for k, v := range f.routes {
		out[k] = v
	}
	return out
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	if f.failWith != nil && (f.failOps == nil || f.failOps[op]) {
		return f.failWith
	}
	return nil
}

func (f *Fake) UpsertConsumer(_ context.Context, c gateway.Consumer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("upsert_consumer"); err != nil {
		return err
	}
	f.consumers[c.ID] = c
	return nil
}

func (f *Fake) DeleteConsumer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete_consumer"); err != nil {
		return err
	}
	delete(f.consumers, id)
	return nil
}

func (f *Fake) UpsertRoute(_ context.Context, r gateway.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("upsert_route"); err != nil {
		return err
	}
	f.routes[r.ID] = r
	return nil
}

func (f *Fake) GetConsumer(_ context.Context, id string) (*gateway.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get_consumer"); err != nil {
		return nil, err
	}
	c, ok := f.consumers[id]
	if !ok {
		return nil, gateway.ErrConsumerNotFound
	}
	return &c, nil
}

var _ gateway.AdminClient = (*Fake)(nil)
