package registry

// Service is a long-running agent component. Start must not block; Stop waits for the
// component's goroutines to exit. Both return an error when called out of order.
type Service interface {
	Start() error
	Stop() error
}
