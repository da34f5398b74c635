package event

import (
	"sync/atomic"
	"time"
)

var messageSequence atomic.Uint64

// Message is the envelope routed by the process event bus.
type Message struct {
	ID          uint64
	Source      string
	HandlerID   string
	PublishedAt time.Time
	Data        Event
}

// NewMessage wraps data with a process-unique, increasing id.
func NewMessage(source, handlerID string, data Event) Message {
	return Message{
		ID:          messageSequence.Add(1),
		Source:      source,
		HandlerID:   handlerID,
		PublishedAt: time.Now().UTC(),
		Data:        data,
	}
}

func (m Message) Type() string {
	if m.Data == nil {
		return ""
	}
	return m.Data.Type()
}

func (m Message) Domain() Domain {
	if m.Data == nil {
		return ""
	}
	return m.Data.Domain()
}

// FileSystem returns the payload when the message carries a filesystem event.
func (m Message) FileSystem() (FileSystemEvent, bool) {
	data, ok := m.Data.(FileSystemEvent)
	return data, ok
}

// Publisher is the publish handle given to a producer. It stamps every
// message with the producer's source and handler id.
type Publisher struct {
	bus       *Bus[Message]
	source    string
	handlerID string
}

func NewPublisher(bus *Bus[Message], source, handlerID string) *Publisher {
	return &Publisher{bus: bus, source: source, handlerID: handlerID}
}

// Publish wraps data in a Message and enqueues it. The returned id is zero
// when the bus refused the message.
func (p *Publisher) Publish(data Event) uint64 {
	if p == nil || p.bus == nil || data == nil {
		return 0
	}
	message := NewMessage(p.source, p.handlerID, data)
	if !p.bus.Publish(message) {
		return 0
	}
	return message.ID
}

func (p *Publisher) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

func (p *Publisher) HandlerID() string {
	if p == nil {
		return ""
	}
	return p.handlerID
}

// InDomain builds a message filter accepting the given domains.
func InDomain(domains ...Domain) func(Message) bool {
	set := make(map[Domain]struct{}, len(domains))
	for _, domain := range domains {
		set[domain] = struct{}{}
	}
	return func(message Message) bool {
		_, ok := set[message.Domain()]
		return ok
	}
}

// SubscribeDomain subscribes callback to messages whose payload is of type E
// and passes filter. A nil filter accepts every payload of that type.
func SubscribeDomain[E Event](bus *Bus[Message], filter func(E) bool, callback func(E)) SubscriptionID {
	if bus == nil || callback == nil {
		return 0
	}
	return bus.SubscribeFiltered(func(message Message) bool {
		data, ok := message.Data.(E)
		if !ok {
			return false
		}
		return filter == nil || filter(data)
	}, func(message Message) {
		callback(message.Data.(E))
	})
}
