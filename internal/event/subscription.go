package event

// Subscription represents a stream of events. The carrier of the
// events is typically a channel, but isn't part of the interface.
//
// Subscriptions can fail while established. Failures are signaled
// through an error channel. It is convenient to read and write these
// errors using the Err method rather than the channel directly.
//
// Consumers should always call Unsubscribe when done with the
// subscription to free up resources held on the producer's side.
type Subscription interface {
	// Err returns the subscription error channel. The channel receives
	// a value if there is an issue with the subscription (e.g. the
	// network connection delivering events has been closed). Only one
	// value will ever be sent. The error channel is closed by
	// Unsubscribe.
	Err() <-chan error

	// Unsubscribe cancels the sending of events to the data channel and
	// closes the error channel. It can be called more than once
	// (subsequent calls are no-ops).
	Unsubscribe()
}
