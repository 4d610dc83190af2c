package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_pos/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Key scopes a cart to one operator at one location.
type Key struct {
	LocationID int64
	OperatorID int64
}

func KeyFor(s domain.Session) Key {
	return Key{LocationID: s.LocationID, OperatorID: s.OperatorID}
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.LocationID, k.OperatorID)
}

// Store holds carts between requests of the same checkout session.
type Store interface {
	Get(ctx context.Context, key Key) (*Cart, error)
	Save(ctx context.Context, key Key, c *Cart) error
	Delete(ctx context.Context, key Key) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	carts map[Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[Key][]byte)}
}

// Carts are kept serialized so callers never share line slices.
func (m *MemoryStore) Get(_ context.Context, key Key) (*Cart, error) {
	m.mu.RLock()
	data, ok := m.carts[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCartNotFound
	}

	c := New()
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode cart failed: %w", err)
	}
	return c, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, c *Cart) error {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode cart failed: %w", err)
	}

	m.mu.Lock()
	m.carts[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.carts, key)
	m.mu.Unlock()
	return nil
}
