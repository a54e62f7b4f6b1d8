package ws

import "sync"

// AllHooks subscribes a client to every hook's stream.
const AllHooks = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by hook ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	closeOnce sync.Once
}

// message couples payload with hook identifier.
type message struct {
	hookID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	hookID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan chan int),
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
				for c := range clients {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.hookID]; !ok {
				h.clients[sub.hookID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.hookID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			h.remove(sub.hookID, sub.client)
		case msg := <-h.broadcast:
			h.deliver(msg.hookID, msg.payload)
			if msg.hookID != AllHooks {
				h.deliver(AllHooks, msg.payload)
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

func (h *Hub) deliver(hookID string, payload []byte) {
	clients, ok := h.clients[hookID]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, hookID)
	}
}

func (h *Hub) remove(hookID string, client Subscriber) {
	if clients, ok := h.clients[hookID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, hookID)
		}
	}
}

// Register adds a client to a hook stream.
func (h *Hub) Register(hookID string, client Subscriber) {
	select {
	case h.register <- subscription{hookID: hookID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(hookID string, client Subscriber) {
	select {
	case h.unreg <- subscription{hookID: hookID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients of hookID and to wildcard subscribers.
func (h *Hub) Broadcast(hookID string, payload []byte) {
	select {
	case h.broadcast <- message{hookID: hookID, payload: payload}:
	case <-h.done:
	}
}

// Clients reports how many subscriptions are active.
func (h *Hub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
