package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"example.com/bt-action-bridge/internal/actionnode"
)

// EventBroker fans messages out to every connected SSE and websocket client.
// Slow clients miss messages rather than stall the broadcaster.
type EventBroker struct {
	clients    map[chan string]bool
	newClients chan chan string
	defunct    chan chan string
	messages   chan string
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	log        *zap.Logger
}

func NewEventBroker(logger *zap.Logger) *EventBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &EventBroker{
		clients:    make(map[chan string]bool),
		newClients: make(chan chan string),
		defunct:    make(chan chan string),
		messages:   make(chan string),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        logger.Named("events"),
	}
	go b.start()
	return b
}

func (b *EventBroker) start() {
	defer close(b.done)
	for {
		select {
		case s := <-b.newClients:
			b.clients[s] = true
			b.count.Store(int64(len(b.clients)))
			b.log.Debug("added event client")

		case s := <-b.defunct:
			if b.clients[s] {
				delete(b.clients, s)
				close(s)
			}
			b.count.Store(int64(len(b.clients)))
			b.log.Debug("removed event client")

		case msg := <-b.messages:
			for s := range b.clients {
				select {
				case s <- msg:
				default:
					// Client is blocked, skip
				}
			}

		case <-b.quit:
			for s := range b.clients {
				close(s)
			}
			b.clients = nil
			b.count.Store(0)
			return
		}
	}
}

func (b *EventBroker) subscribe() (chan string, bool) {
	ch := make(chan string, 16)
	select {
	case b.newClients <- ch:
		return ch, true
	case <-b.quit:
		return nil, false
	}
}

func (b *EventBroker) unsubscribe(ch chan string) {
	select {
	case b.defunct <- ch:
	case <-b.quit:
	}
}

// Clients returns the number of connected clients.
func (b *EventBroker) Clients() int { return int(b.count.Load()) }

func (b *EventBroker) Broadcast(msg string) {
	select {
	case b.messages <- msg:
	case <-b.quit:
	}
}

// OnTransition broadcasts t as JSON, making the broker an actionnode.Observer.
func (b *EventBroker) OnTransition(t actionnode.Transition) {
	payload, err := json.Marshal(t)
	if err != nil {
		b.log.Warn("encode transition", zap.Error(err))
		return
	}
	b.Broadcast(string(payload))
}

// Close disconnects every client and stops the broker.
func (b *EventBroker) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.done
}

func (b *EventBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	messageChan, ok := b.subscribe()
	if !ok {
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.unsubscribe(messageChan)
			return
		case msg, open := <-messageChan:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
