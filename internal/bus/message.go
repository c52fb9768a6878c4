package bus

import "context"

// Message is one inbound or outbound bus message.
type Message struct {
	Topic   string
	Payload []byte
}

// Callback handles a message delivered by the receive loop. Returned errors
// are logged by the dispatcher and never stop the loop.
type Callback func(ctx context.Context, msg Message) error

// Subscription is a registration handle. Registering the same handle on the
// same pattern twice has no additional effect.
type Subscription struct {
	name string
	cb   Callback
}

func NewSubscription(name string, cb Callback) *Subscription {
	return &Subscription{name: name, cb: cb}
}

func (s *Subscription) Name() string {
	return s.name
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Connector opens receive-side connections for the Loop.
type Connector interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a single receive-side bus connection.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Messages() <-chan Message
	// Done is closed when the connection is lost; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}
