package events

// Message is a raw event as delivered by the bus.
type Message struct {
	Topic string
	Data  []byte
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw events on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}
