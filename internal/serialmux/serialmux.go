// Package serialmux fans lines read from one serial device out to many
// subscribers and serialises commands written back to it. The radar track
// feed and the debug tail endpoint both subscribe to the same port.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/modeld/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// SerialMux is a generic serial port multiplexer.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	// BufferSize is the channel capacity given to new subscribers.
	BufferSize int
}

// SerialMuxInterface is the surface shared by real and disabled muxes.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of lines read from the port.
	Subscribe() (string, chan string)
	// Unsubscribe closes and removes the channel registered under id.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command.
	SendCommand(string) error
	// Monitor reads lines until ctx ends or the port fails.
	Monitor(context.Context) error
	Close() error
	// Initialize writes the given start-up commands in order.
	Initialize(commands ...string) error
	// AttachAdminRoutes mounts the tail and send-command endpoints under
	// /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps an open port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		BufferSize:  16,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, s.BufferSize)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) Initialize(commands ...string) error {
	for _, c := range commands {
		if err := s.SendCommand(c); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", c, err)
		}
	}
	return nil
}

func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	monitoring.Logf("serialmux: wrote command %q", strings.TrimSpace(command))
	return nil
}

// Monitor scans lines from the port and offers each to every subscriber.
// A subscriber whose buffer is full misses the line.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so the loop below can
	// observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			s.closingMu.Lock()
			closing := s.closing
			s.closingMu.Unlock()
			if closing {
				return nil
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

const sendCommandPage = `<!doctype html>
<title>serial command</title>
<form method="post" action="send-command-api">
<input name="command" autofocus> <button>send</button>
</form>
<pre id="tail"></pre>
<script>
new EventSource("tail").onmessage = e => {
  const p = document.getElementById("tail");
  p.textContent = (e.data + "\n" + p.textContent).slice(0, 20000);
};
</script>`

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the radar serial port", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, sendCommandPage)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", html.EscapeString(command))
	})

	// Server-sent events, one per line read from the port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				var b bytes.Buffer
				b.WriteString("data: ")
				b.WriteString(payload)
				b.WriteString("\n\n")
				if _, err := w.Write(b.Bytes()); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
