package notify

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/punchamoorthee/adauction/internal/domain"
)

type subscriberID int64

// DeliveryFn receives an encoded Message. It is called while the dispatcher
// holds its read lock and must not block.
type DeliveryFn func(eventData []byte)

// CancelFn removes a subscription.
type CancelFn func()

// Message is the wire form of a ledger event.
type Message struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Dispatcher implements the fan-out pattern delivering every published ledger
// event to all current subscribers. Subscribers that join late do not see
// earlier events.
type Dispatcher struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[subscriberID]DeliveryFn
	currentID   subscriberID
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		subscribers: map[subscriberID]DeliveryFn{},
		currentID:   1,
	}
}

// Publish encodes e once and hands it to every subscriber.
func (disp *Dispatcher) Publish(e domain.Event) {
	eventData, err := json.Marshal(Message{Method: string(e.Kind), Params: e.Payload()})
	if err != nil {
		disp.logger.Error("json.Marshal() failed", zap.Error(err))
		return
	}
	disp.mu.RLock()
	defer disp.mu.RUnlock()

	for _, deliveryFn := range disp.subscribers {
		deliveryFn(eventData)
	}
}

func (disp *Dispatcher) Subscribe(fn DeliveryFn) CancelFn {
	disp.mu.Lock()
	defer disp.mu.Unlock()

	id := disp.currentID
	disp.currentID += 1
	disp.subscribers[id] = fn
	return func() { disp.unsubscribe(id) }
}

func (disp *Dispatcher) unsubscribe(id subscriberID) {
	disp.mu.Lock()
	defer disp.mu.Unlock()
	delete(disp.subscribers, id)
}

// Subscribers returns the number of active subscriptions.
func (disp *Dispatcher) Subscribers() int {
	disp.mu.RLock()
	defer disp.mu.RUnlock()
	return len(disp.subscribers)
}
