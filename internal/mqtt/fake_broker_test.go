package mqttc

import (
	"errors"
	"strings"
	"sync"
)

type message struct {
	topic   string
	payload []byte
}

// fakeBroker is an in-memory PubSub that delivers messages in publish order
// on a single goroutine, like a broker connection with ordered delivery.
type fakeBroker struct {
	mu        sync.Mutex
	subs      map[string]MessageHandler
	published []string
	connected bool
	closed    bool

	queue chan message
	done  chan struct{}
}

func newFakeBroker() *fakeBroker {
	b := &fakeBroker{
		subs:      make(map[string]MessageHandler),
		connected: true,
		queue:     make(chan message, 256),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *fakeBroker) loop() {
	defer close(b.done)
	for m := range b.queue {
		b.mu.Lock()
		var handlers []MessageHandler
		for filter, h := range b.subs {
			if matches(filter, m.topic) {
				handlers = append(handlers, h)
			}
		}
		b.mu.Unlock()
		for _, h := range handlers {
			h(m.topic, m.payload)
		}
	}
}

func matches(filter, topic string) bool {
	if strings.HasSuffix(filter, "/#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))
	}
	return filter == topic
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.connected {
		return errors.New("not connected")
	}
	b.published = append(b.published, topic)
	b.queue <- message{topic: topic, payload: payload}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) setConnected(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = v
}

func (b *fakeBroker) publishedTo(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.published {
		if t == topic {
			return true
		}
	}
	return false
}

func (b *fakeBroker) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBroker) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}
