package repofakes

import (
	"context"
	"sync"
	"time"

	"github.com/authface/authface/sessions"
)

var _ sessions.DurableRepo = (*FakeDurableRepo)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// FakeDurableRepo is an in-memory stand-in for the remote key-value
// store. Failure modes are injectable so store tests can exercise the
// degraded paths.
type FakeDurableRepo struct {
	lock    sync.Mutex
	entries map[string]entry

	PutErr    error
	GetErr    error
	DeleteErr error

	PutCalls    int
	GetCalls    int
	DeleteCalls int
}

func NewFakeDurableRepo() *FakeDurableRepo {
	return &FakeDurableRepo{
		entries: make(map[string]entry),
	}
}

func (r *FakeDurableRepo) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.PutCalls++
	if r.PutErr != nil {
		return r.PutErr
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	r.entries[key] = entry{value: copied, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (r *FakeDurableRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.GetCalls++
	if r.GetErr != nil {
		return nil, r.GetErr
	}
	e, ok := r.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, sessions.ErrNotFound
	}
	return e.value, nil
}

func (r *FakeDurableRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.DeleteCalls++
	if r.DeleteErr != nil {
		return r.DeleteErr
	}
	delete(r.entries, key)
	return nil
}

func (r *FakeDurableRepo) Close() error {
	return nil
}

// Seed inserts a raw record directly, bypassing error injection.
func (r *FakeDurableRepo) Seed(key string, value []byte, ttl time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Len returns the number of stored records.
func (r *FakeDurableRepo) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries)
}
