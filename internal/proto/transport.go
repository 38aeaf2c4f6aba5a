package proto

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is the duplex channel a front-end talks to the engine over.
// Both implementations below carry the identical Command/Event schema —
// the engine decodes past Transport and never touches the wire directly
// (SPEC_FULL.md §4.7 expansion).
type Transport interface {
	ReadCommand() (Command, error)
	WriteEvent(Event) error
	Close() error
}

// StdioTransport frames one JSON object per line over an arbitrary
// io.Reader/io.Writer pair — the headless/CI transport, and the one
// the terminal demo client drives (SPEC_FULL.md §12).
type StdioTransport struct {
	scanner *bufio.Scanner
	wmu     sync.Mutex
	w       io.Writer
	closer  io.Closer
}

// NewStdioTransport wraps r/w as a line-delimited JSON duplex channel. Close
// closes closer and nothing else; it is a no-op when closer is nil. Pass the
// same value as closer when r and w are two views of one connection (e.g. a net.Conn).
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &StdioTransport{scanner: scanner, w: w, closer: closer}
}

func (t *StdioTransport) ReadCommand() (Command, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return Command{}, err
		}
		return Command{}, io.EOF
	}
	var cmd Command
	if err := json.Unmarshal(t.scanner.Bytes(), &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (t *StdioTransport) WriteEvent(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err = t.w.Write(data)
	return err
}

func (t *StdioTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// WebSocketTransport carries the identical schema over one text-frame
// gorilla/websocket connection, one JSON object per frame — the primary
// transport for an embedded webview front-end (SPEC_FULL.md §4.7
// expansion).
type WebSocketTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketTransport wraps an already-upgraded connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) ReadCommand() (Command, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return Command{}, err
	}
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (t *WebSocketTransport) WriteEvent(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

var (
	_ Transport = (*StdioTransport)(nil)
	_ Transport = (*WebSocketTransport)(nil)
)
