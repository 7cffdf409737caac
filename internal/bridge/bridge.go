// Package bridge relays newline-delimited JSON-RPC between a local
// stdin/stdout client and a remote HTTP MCP endpoint.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/zane-analytics/meta-ads-mcp/internal/protocol"
)

// Config holds the bridge settings.
type Config struct {
	// RemoteURL is the MCP endpoint messages are forwarded to.
	RemoteURL string
	// Token, when set, is sent as a bearer header on every forward.
	Token string
	// Timeout bounds each remote round trip.
	Timeout time.Duration
}

// slot is one reserved position in the output order. It resolves exactly
// once; a nil payload means no output line (notifications).
type slot struct {
	once sync.Once
	ch   chan []byte
}

func newSlot() *slot {
	return &slot{ch: make(chan []byte, 1)}
}

func (s *slot) resolve(data []byte) {
	s.once.Do(func() { s.ch <- data })
}

// Bridge forwards each framed input message as an HTTP POST and writes the
// correlated responses to the output in input order. Remote round trips run
// concurrently; output writing is serialized through a single consumer.
type Bridge struct {
	cfg        Config
	in         io.Reader
	out        io.Writer
	httpClient *http.Client

	mu      sync.Mutex
	pending map[string]*slot
}

// New creates a bridge between the given streams and the remote endpoint.
func New(cfg Config, in io.Reader, out io.Writer) *Bridge {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Bridge{
		cfg:        cfg,
		in:         in,
		out:        out,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pending:    make(map[string]*slot),
	}
}

// Run reads input until EOF or context cancellation. On cancellation,
// outstanding correlations are resolved with synthesized error envelopes and
// no further output follows.
func (b *Bridge) Run(ctx context.Context) error {
	queue := make(chan *slot, 64)

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		w := bufio.NewWriter(b.out)
		for s := range queue {
			data := <-s.ch
			if data == nil {
				continue
			}
			w.Write(data)
			w.WriteByte('\n')
			w.Flush()
		}
	}()

	framer := protocol.NewFramer()
	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 64*1024), protocol.MaxFrameBytes+1)

	var callWG sync.WaitGroup

scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			break scan
		default:
		}

		frames, err := framer.Push(scanner.Bytes())
		if err != nil {
			s := newSlot()
			queue <- s
			s.resolve(encodeEnvelope(protocol.NewErrorResponse(nil, protocol.CodeParseError, "Parse error: frame too large", nil)))
			continue
		}
		for _, frame := range frames {
			b.forward(ctx, frame, queue, &callWG)
		}
	}

	// On cancellation, resolve whatever is still in flight; on EOF the
	// outstanding round trips are allowed to finish and drain in order.
	if ctx.Err() != nil {
		b.failPending()
	}
	callWG.Wait()
	close(queue)
	writerWG.Wait()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("input read failed: %w", err)
	}
	return nil
}

// forward reserves the next output slot for a frame and starts its remote
// round trip. Slot order equals input order, so responses are written in
// input order no matter how the round trips interleave.
func (b *Bridge) forward(ctx context.Context, frame []byte, queue chan<- *slot, wg *sync.WaitGroup) {
	s := newSlot()
	queue <- s

	msg, decErr := protocol.Decode(frame)
	if decErr != nil {
		code := protocol.CodeParseError
		message := "Parse error"
		if perr, ok := decErr.(*protocol.RPCError); ok {
			code, message = perr.Code, perr.Message
		}
		s.resolve(encodeEnvelope(protocol.NewErrorResponse(recoverID(frame), code, message, nil)))
		return
	}

	isNotification := msg.IsNotification()
	key := ""
	if !isNotification {
		key = string(msg.ID)
		b.addPending(key, s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		data := b.roundTrip(ctx, frame, msg.ID, isNotification)
		if !isNotification {
			b.removePending(key)
		}
		s.resolve(data)
	}()
}

// roundTrip forwards one frame and maps the remote outcome onto at most one
// output line. Notifications never produce output, even on failure.
func (b *Bridge) roundTrip(ctx context.Context, frame []byte, id json.RawMessage, isNotification bool) []byte {
	fail := func(format string, args ...interface{}) []byte {
		if isNotification {
			log.Printf("WARN: notification forward failed: %s", fmt.Sprintf(format, args...))
			return nil
		}
		return encodeEnvelope(protocol.NewErrorResponse(id, protocol.CodeUpstreamUnavailable, fmt.Sprintf(format, args...), nil))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.RemoteURL, bytes.NewReader(frame))
	if err != nil {
		return fail("bridge: invalid remote request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fail("bridge: remote call failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// Notification ack; nothing to write.
		return nil
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fail("bridge: failed to read remote body: %v", err)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err != nil {
			return fail("bridge: unparseable remote body")
		}
		if isNotification {
			return nil
		}
		return compact.Bytes()
	default:
		return fail("bridge: remote returned status %d", resp.StatusCode)
	}
}

func (b *Bridge) addPending(key string, s *slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[key] = s
}

func (b *Bridge) removePending(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key)
}

// failPending synthesizes error envelopes for every outstanding correlation
// at shutdown.
func (b *Bridge) failPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, s := range b.pending {
		s.resolve(encodeEnvelope(protocol.NewErrorResponse(json.RawMessage(key), protocol.CodeUpstreamUnavailable, "bridge: shutting down", nil)))
		delete(b.pending, key)
	}
}

func encodeEnvelope(msg *protocol.Message) []byte {
	data, err := protocol.Encode(msg)
	if err != nil {
		// Envelope fields are all marshalable; this cannot happen in practice.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return data
}

func recoverID(frame []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil
	}
	return probe.ID
}
