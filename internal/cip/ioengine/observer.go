package ioengine

// Observer is notified around each O->T send and after each accepted T->O datagram.
// Callbacks run on the engine goroutines and must not block.
type Observer interface {
	OnSending(c *Context)
	OnSent(c *Context)
	OnReceived(c *Context)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Sending  func(c *Context)
	Sent     func(c *Context)
	Received func(c *Context)
}

func (f ObserverFuncs) OnSending(c *Context) {
	if f.Sending != nil {
		f.Sending(c)
	}
}

func (f ObserverFuncs) OnSent(c *Context) {
	if f.Sent != nil {
		f.Sent(c)
	}
}

func (f ObserverFuncs) OnReceived(c *Context) {
	if f.Received != nil {
		f.Received(c)
	}
}
