package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const defaultPendingLimit = 50

// Center collects transient user notifications. Subscribers receive each
// notification once; a bounded pending list keeps the latest ones for
// consumers that attach late.
type Center struct {
	mu      sync.Mutex
	pending []Notification
	subs    map[int]func(Notification)
	nextSub int
	limit   int
}

func NewCenter() *Center {
	return &Center{
		subs:  map[int]func(Notification){},
		limit: defaultPendingLimit,
	}
}

func (c *Center) Publish(level Level, message string) Notification {
	if c == nil {
		return Notification{}
	}

	n := Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		At:      time.Now(),
	}

	c.mu.Lock()
	c.pending = append(c.pending, n)
	if len(c.pending) > c.limit {
		c.pending = c.pending[len(c.pending)-c.limit:]
	}
	subs := make([]func(Notification), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
	return n
}

func (c *Center) Info(message string) { c.Publish(LevelInfo, message) }

func (c *Center) Warn(message string) { c.Publish(LevelWarn, message) }

func (c *Center) Error(message string) { c.Publish(LevelError, message) }

// Subscribe registers a callback for future notifications and returns a
// cancel function. Cancel is safe to call more than once.
func (c *Center) Subscribe(fn func(Notification)) func() {
	if c == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Pending returns a copy of the retained notifications, oldest first.
func (c *Center) Pending() []Notification {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.pending))
	copy(out, c.pending)
	return out
}
