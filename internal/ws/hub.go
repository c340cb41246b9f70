package ws

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/splax/deploydeck/internal/domain"
)

// AllProjects is the topic that receives every project's events.
const AllProjects = "*"

const (
	// broadcastBuffer bounds messages waiting for the run loop.
	broadcastBuffer = 256
	// outboxSize bounds messages waiting for a single subscriber.
	outboxSize = 32
)

// ErrBacklogFull is returned by Publish when the hub cannot accept more
// messages. The message is dropped.
var ErrBacklogFull = errors.New("ws: hub backlog full")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans job events out to subscribers by project slug. Publishing never
// waits on a subscriber: each one has its own outbox, and a subscriber whose
// outbox fills up is dropped.
type Hub struct {
	clients   map[string]map[Subscriber]*peer
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	topic  string
	client Subscriber
}

// peer pumps one subscriber's outbox. Only the run loop sends on or closes out.
type peer struct {
	client Subscriber
	out    chan []byte
}

func newPeer(client Subscriber) *peer {
	p := &peer{client: client, out: make(chan []byte, outboxSize)}
	go p.pump()
	return p
}

func (p *peer) pump() {
	defer p.client.Close()
	failed := false
	for payload := range p.out {
		if failed {
			continue
		}
		if err := p.client.Send(payload); err != nil {
			failed = true
			p.client.Close()
		}
	}
}

// stop ends the pump and closes the client without waiting on a blocked Send.
func (p *peer) stop() {
	close(p.out)
	go p.client.Close()
}

// NewHub creates a running Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*peer),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for _, p := range clients {
					p.stop()
				}
			}
			h.clients = map[string]map[Subscriber]*peer{}
			return
		case sub := <-h.register:
			clients, ok := h.clients[sub.topic]
			if !ok {
				clients = make(map[Subscriber]*peer)
				h.clients[sub.topic] = clients
			}
			if _, dup := clients[sub.client]; !dup {
				clients[sub.client] = newPeer(sub.client)
			}
		case sub := <-h.unreg:
			h.remove(sub.topic, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.topic, msg.payload)
			if msg.topic != AllProjects {
				h.deliver(AllProjects, msg.payload)
			}
		}
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	if p, ok := clients[client]; ok {
		p.stop()
		delete(clients, client)
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	for c, p := range clients {
		select {
		case p.out <- payload:
		default:
			p.stop()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register subscribes a client to a project slug, or to AllProjects.
func (h *Hub) Register(topic string, client Subscriber) {
	select {
	case h.register <- subscription{topic: topic, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(topic string, client Subscriber) {
	select {
	case h.unreg <- subscription{topic: topic, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for the topic's clients and for AllProjects
// clients. It reports false when the message was dropped.
func (h *Hub) Broadcast(topic string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{topic: topic, payload: payload}:
		return true
	case <-h.done:
		return false
	default:
		return false
	}
}

// Publish broadcasts a job event under its project slug.
func (h *Hub) Publish(event domain.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	if !h.Broadcast(event.ProjectSlug, payload) {
		return ErrBacklogFull
	}
	return nil
}

// Close stops the hub and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
