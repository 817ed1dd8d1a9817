package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	// writeTimeout is the maximum time to wait for a write to complete.
	writeTimeout = 10 * time.Second

	// maxLineSize is the maximum length of a single JSON-RPC line.
	// Prevents memory exhaustion from a client sending an endless line
	// without a newline terminator.
	maxLineSize = 16 * 1024
)

// Request is a newline-delimited JSON-RPC request.
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is a JSON-RPC response.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result"`
	Error  *Error      `json:"error"`
}

// Error is the wire form of an engine failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Codec handles newline-delimited JSON encoding/decoding on a connection.
type Codec struct {
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// NewCodec creates a codec for the given connection.
func NewCodec(conn net.Conn) *Codec {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	return &Codec{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}
}

// ReadRequest reads a single request line.
func (c *Codec) ReadRequest() (*Request, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, fmt.Errorf("connection closed")
	}

	var req Request
	if err := json.Unmarshal(c.scanner.Bytes(), &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return &req, nil
}

// SendResponse sends a response line.
func (c *Codec) SendResponse(resp *Response) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.encoder.Encode(resp)
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
