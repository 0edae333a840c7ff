package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventBalanceUpdated = "balance_updated"
	EventLowBalance     = "low_balance"
)

var ErrNotDelivered = errors.New("no subscriber accepted the event")

type BalanceUpdate struct {
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	Type          string    `json:"type"`
	Balance       string    `json:"balance"`
	At            time.Time `json:"at"`
}

type LowBalanceEvent struct {
	AccountID string    `json:"account_id"`
	UserID    string    `json:"user_id"`
	Balance   string    `json:"balance"`
	Threshold string    `json:"threshold"`
	At        time.Time `json:"at"`
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans events out to the websocket clients subscribed to an account.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*Client]struct{})
	}
	h.clients[accountID][client] = struct{}{}
}

func (h *Hub) Unregister(accountID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		return
	}
	delete(h.clients[accountID], client)
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}

func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

func (h *Hub) BroadcastBalance(accountID string, update BalanceUpdate) {
	h.publish(accountID, EventBalanceUpdated, update)
}

// NotifyLowBalance returns ErrNotDelivered when no connected client took the
// event, either because none is subscribed or every buffer is full.
func (h *Hub) NotifyLowBalance(ctx context.Context, event LowBalanceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.publish(event.AccountID, EventLowBalance, event) == 0 {
		return ErrNotDelivered
	}
	return nil
}

func (h *Hub) publish(accountID, event string, data any) int {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.clients[accountID] {
		select {
		case client.send <- payload:
			delivered++
		default:
		}
	}
	return delivered
}
