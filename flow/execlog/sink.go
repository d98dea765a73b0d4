package execlog

// Sink receives every entry the Logger appends, in append order.
//
// Handle is called synchronously on the logging task. Implementations
// must be safe for concurrent use and should return quickly; slow or
// remote sinks should buffer internally. A panic in Handle is recovered
// by the Logger and the entry is dropped for that sink only.
type Sink interface {
	Handle(Entry)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Entry)

// Handle calls the wrapped function.
func (f SinkFunc) Handle(e Entry) {
	f(e)
}
