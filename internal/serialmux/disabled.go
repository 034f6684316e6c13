package serialmux

import (
	"context"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in when no radar port is configured. Subscribers
// never receive a line; their channels close on Unsubscribe or Close.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subscribers: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Initialize(...string) error { return nil }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes only notes on the debug index that the port is off.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).KV("Radar serial", "disabled")
}
