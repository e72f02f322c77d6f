package events

import (
	"sync"

	"go.uber.org/zap"
)

const TopicAuctionCleared = "auction:cleared"

// AuctionCleared is published when an auction of a market direction clears.
type AuctionCleared struct {
	SellToken    string `json:"sellToken" msgpack:"sellToken"`
	BuyToken     string `json:"buyToken" msgpack:"buyToken"`
	AuctionIndex int64  `json:"auctionIndex" msgpack:"auctionIndex"`
}

type subscription struct {
	id      uint64
	handler func(payload any)
}

// Bus is an in-process pub/sub. Handlers run on their own goroutine per
// delivery, so a slow handler never blocks Publish.
type Bus struct {
	log *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
	wg     sync.WaitGroup
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[string][]subscription)}
}

// Subscribe registers handler for topic. The returned func removes it and
// is safe to call more than once.
func (b *Bus) Subscribe(topic string, handler func(payload any)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[topic]
			for i, s := range subs {
				if s.id == id {
					b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.wg.Add(1)
		go func(h func(payload any)) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked", zap.String("topic", topic), zap.Any("panic", r))
				}
			}()
			h(payload)
		}(s.handler)
	}
}

// Subscribers reports the number of handlers on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Wait blocks until every delivered handler has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
