// Package langserver drives a persistent tsserver process over its stdio,
// multiplexing concurrent requests onto the length-prefixed JSON protocol
// and exposing diagnostics and type introspection to the container
// backend.
package langserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bunrunner/bunrunner/internal/log"
)

// requestTimeout bounds every individual tsserver request. On expiry the
// pending slot is abandoned; a late response is silently dropped.
// Variable so tests with an in-memory server can shorten it.
var requestTimeout = 10 * time.Second

// warmupDelay gives tsserver time to come up before the first request.
// Variable so tests with an in-memory server can skip the wait.
var warmupDelay = 500 * time.Millisecond

// request is an outgoing command, written as one JSON line.
type request struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

// message is anything tsserver sends back. Events are received and
// discarded; responses are matched to waiters by RequestSeq.
type message struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Event      string          `json:"event,omitempty"`
	Command    string          `json:"command,omitempty"`
	RequestSeq int64           `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Driver owns one tsserver instance. It is safe for concurrent use.
type Driver struct {
	stdin io.WriteCloser
	kill  func() error

	mu      sync.Mutex
	seq     int64
	pending map[int64]chan *message
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
}

// Start attaches a driver to a running tsserver's stdio and begins the
// reader task. kill terminates the underlying process when Stop decides
// the polite exit was not enough. Start blocks for the warm-up delay so
// callers can issue requests immediately on return.
func Start(stdin io.WriteCloser, stdout io.Reader, kill func() error) *Driver {
	d := &Driver{
		stdin:   stdin,
		kill:    kill,
		pending: make(map[int64]chan *message),
		done:    make(chan struct{}),
	}
	go d.readLoop(stdout)
	time.Sleep(warmupDelay)
	return d
}

// readLoop scans framed messages off tsserver's stdout and resolves
// waiters. It exits when the stream closes.
func (d *Driver) readLoop(stdout io.Reader) {
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			for _, body := range extractFrames(&buf) {
				d.dispatch(body)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("tsserver stdout closed", "error", err)
			}
			return
		}
	}
}

func (d *Driver) dispatch(body []byte) {
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Debug("discarding unparseable tsserver message", "error", err)
		return
	}
	if msg.Type != "response" {
		return
	}

	d.mu.Lock()
	ch, ok := d.pending[msg.RequestSeq]
	if ok {
		delete(d.pending, msg.RequestSeq)
	}
	d.mu.Unlock()

	if ok {
		ch <- &msg
	}
}

// send writes a command without waiting for a response. tsserver's open,
// close, and exit commands never answer.
func (d *Driver) send(command string, args any) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("language service is stopped")
	}
	d.seq++
	req := request{Seq: d.seq, Type: "request", Command: command, Arguments: args}
	d.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", command, err)
	}
	line = append(line, '\n')
	if _, err := d.stdin.Write(line); err != nil {
		return fmt.Errorf("writing %s request: %w", command, err)
	}
	return nil
}

// call writes a command and waits for its response or the request
// timeout, whichever comes first.
func (d *Driver) call(ctx context.Context, command string, args any) (*message, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, fmt.Errorf("language service is stopped")
	}
	d.seq++
	seq := d.seq
	ch := make(chan *message, 1)
	d.pending[seq] = ch
	d.mu.Unlock()

	abandon := func() {
		d.mu.Lock()
		delete(d.pending, seq)
		d.mu.Unlock()
	}

	req := request{Seq: seq, Type: "request", Command: command, Arguments: args}
	line, err := json.Marshal(req)
	if err != nil {
		abandon()
		return nil, fmt.Errorf("encoding %s request: %w", command, err)
	}
	line = append(line, '\n')
	if _, err := d.stdin.Write(line); err != nil {
		abandon()
		return nil, fmt.Errorf("writing %s request: %w", command, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if !msg.Success {
			return nil, fmt.Errorf("%s failed: %s", command, msg.Message)
		}
		return msg, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%s request timed out after %s", command, requestTimeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-d.done:
		return nil, fmt.Errorf("language service stopped while waiting for %s", command)
	}
}

// Stop sends exit, kills the process if it lingers, and fails all
// pending waiters. Safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		_ = d.send("exit", nil)

		d.mu.Lock()
		d.stopped = true
		d.pending = make(map[int64]chan *message)
		d.mu.Unlock()

		close(d.done)
		d.stdin.Close()
		if d.kill != nil {
			if err := d.kill(); err != nil {
				log.Debug("killing tsserver", "error", err)
			}
		}
	})
}
