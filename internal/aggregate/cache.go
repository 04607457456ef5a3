package aggregate

import (
	"context"
	"sync"

	"github.com/sells-group/flow-analytics/internal/model"
)

// Cache is a request-scoped read-through cache over message metadata. A new
// Cache is created per run so concurrent runs never observe each other's
// partially populated state.
type Cache interface {
	MessagesFor(ctx context.Context, flowID string) ([]model.FlowMessage, error)
	Message(ctx context.Context, messageID string) (model.FlowMessage, error)
}

// MemoryCache is an in-memory Cache backed by a Source. It is safe for
// concurrent use. Failed lookups are not cached.
type MemoryCache struct {
	src Source

	mu       sync.Mutex
	lists    map[string][]model.FlowMessage
	messages map[string]model.FlowMessage
}

// NewMemoryCache creates an empty cache reading through to src.
func NewMemoryCache(src Source) *MemoryCache {
	return &MemoryCache{
		src:      src,
		lists:    make(map[string][]model.FlowMessage),
		messages: make(map[string]model.FlowMessage),
	}
}

// MessagesFor returns the message list of a flow.
func (c *MemoryCache) MessagesFor(ctx context.Context, flowID string) ([]model.FlowMessage, error) {
	c.mu.Lock()
	if msgs, ok := c.lists[flowID]; ok {
		c.mu.Unlock()
		return msgs, nil
	}
	c.mu.Unlock()

	msgs, err := c.src.FlowMessages(ctx, flowID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lists[flowID] = msgs
	for _, m := range msgs {
		c.messages[m.ID] = m
	}
	c.mu.Unlock()
	return msgs, nil
}

// Message returns a single message, consulting already-listed flows first.
func (c *MemoryCache) Message(ctx context.Context, messageID string) (model.FlowMessage, error) {
	c.mu.Lock()
	if m, ok := c.messages[messageID]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := c.src.FlowMessage(ctx, messageID)
	if err != nil {
		return model.FlowMessage{}, err
	}

	c.mu.Lock()
	c.messages[messageID] = m
	c.mu.Unlock()
	return m, nil
}
