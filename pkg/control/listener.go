package control

import (
	"sync"

	"ballplate-go/pkg/acp"
	"ballplate-go/pkg/event"
	"ballplate-go/pkg/log"
)

// Listener pumps inbound messages from the transport into the event
// dispatcher, where the core's message handler owns them. It exits when
// the transport closes.
type Listener struct {
	wg sync.WaitGroup
}

// StartListener spawns the pump goroutine.
func StartListener(transport *acp.Transport, dispatcher *event.Dispatcher, logger *log.Logger) *Listener {
	l := &Listener{}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			msg := transport.Receive(acp.WaitForever)
			if msg == nil {
				return
			}
			if !dispatcher.Send(event.KindMessagePending, msg) {
				logger.Warn("event queue full, dropping message 0x%02X from 0x%02X",
					uint8(msg.Kind()), uint8(msg.Sender()))
				transport.Destroy(msg)
			}
		}
	}()
	return l
}

// Wait blocks until the pump goroutine exits.
func (l *Listener) Wait() {
	l.wg.Wait()
}
