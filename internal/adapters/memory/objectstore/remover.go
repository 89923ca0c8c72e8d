package objectstore

import (
	"context"
	"sync"
)

// Remover records removed keys instead of talking to a bucket.
// It backs local development and tests. It is safe for concurrent use.
type Remover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func NewRemover() *Remover { return &Remover{} }

// FailWith makes subsequent RemoveObject calls return err.
func (r *Remover) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Remover) RemoveObject(ctx context.Context, key string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.removed = append(r.removed, key)
	return nil
}

// Removed returns the keys removed so far, in call order.
func (r *Remover) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}
