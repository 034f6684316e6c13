package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/modeld/internal/monitoring"
)

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("OT"))
	require.NoError(t, mux.SendCommand("OJ\n"))
	assert.Equal(t, "OT\nOJ\n", port.Written())

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("X"), ErrWriteFailed)

	port.ShortWrite = false
	port.WriteError = errors.New("boom")
	assert.Error(t, mux.SendCommand("X"))
}

func TestSendCommandLogs(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	mux := NewSerialMux(NewTestableSerialPort())
	require.NoError(t, mux.SendCommand("OJ\n"))
	assert.Equal(t, []string{`serialmux: wrote command "OJ"`}, lines)
}

func TestInitializeSendsInOrder(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	require.NoError(t, mux.Initialize("AX", "OT", "OJ"))
	assert.Equal(t, "AX\nOT\nOJ\n", port.Written())

	port.WriteError = errors.New("boom")
	err := mux.Initialize("AX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"AX"`)
}

func TestMonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("one\ntwo\n"))
	for _, ch := range []chan string{a, b} {
		for _, want := range []string{"one", "two"} {
			select {
			case got := <-ch:
				assert.Equal(t, want, got)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	mux.Unsubscribe(idB)
	_, open := <-b
	assert.False(t, open)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorEndsAtEOF(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	port.AddReadData([]byte("last\n"))
	require.NoError(t, port.Close())
	assert.NoError(t, mux.Monitor(context.Background()))
}

func TestCloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()
	require.NoError(t, mux.Close())
	_, open := <-ch
	assert.False(t, open)
	assert.True(t, port.Closed())
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	assert.NoError(t, d.SendCommand("x"))
	assert.NoError(t, d.Initialize("a", "b"))
	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	_, ch = d.Subscribe()
	_, open = <-ch
	assert.False(t, open, "subscribe after close returns a closed channel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}

func TestOpen(t *testing.T) {
	m, err := Open("", PortOptions{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DisabledSerialMux{}, m)

	port := NewTestableSerialPort()
	var gotPath string
	m, err = Open("/dev/ttyRADAR", PortOptions{BaudRate: 9600}, func(path string, opts PortOptions) (SerialPorter, error) {
		gotPath = path
		return port, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyRADAR", gotPath)
	require.NoError(t, m.SendCommand("OT"))
	assert.Equal(t, "OT\n", port.Written())

	_, err = Open("/dev/none", PortOptions{}, func(string, PortOptions) (SerialPorter, error) {
		return nil, errors.New("no such device")
	})
	require.Error(t, err)
}

func TestPortOptions(t *testing.T) {
	n, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, n)

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestClassifyPayload(t *testing.T) {
	assert.Equal(t, EventTypeTracks, ClassifyPayload(`{"tracks": []}`))
	assert.Equal(t, EventTypeStatus, ClassifyPayload(` {"temp": 40}`))
	assert.Equal(t, EventTypeUnknown, ClassifyPayload("OK"))
}

func TestAdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"OT"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OT\n", port.Written())

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTailStreamsLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	port.AddReadData([]byte(`{"tracks":[]}` + "\n"))
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, "data: {\"tracks\":[]}\n", line)
}
