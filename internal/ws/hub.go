package ws

import (
	"encoding/json"

	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages deployment event subscriptions by chat ID. All state is
// owned by the run goroutine; the channels serialize access.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with chat identifier.
type message struct {
	chatID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	chatID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.chatID]; !ok {
				h.clients[sub.chatID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.chatID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.chatID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.chatID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.chatID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.chatID)
				}
			}
		}
	}
}

// Register adds a client to a chat's deployment stream.
func (h *Hub) Register(chatID string, client Subscriber) {
	h.register <- subscription{chatID: chatID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(chatID string, client Subscriber) {
	h.unreg <- subscription{chatID: chatID, client: client}
}

// Broadcast sends payload to all of the chat's clients.
func (h *Hub) Broadcast(chatID string, payload []byte) {
	h.broadcast <- message{chatID: chatID, payload: payload}
}

// PublishDeployEvent marshals and broadcasts a deployment status change.
// Marshal errors are impossible for DeployEvent and are swallowed.
func (h *Hub) PublishDeployEvent(event domain.DeployEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.Broadcast(event.ChatID, payload)
}
