package rpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// maxFrameBytes is the largest accepted request line (4 MB).
const maxFrameBytes = 4 * 1024 * 1024

// StdioTransport reads line-delimited JSON-RPC requests from an io.Reader
// and writes responses to an io.Writer.
//
// Requests are read by a single loop and dispatched each in its own
// goroutine, so a slow tool call never blocks the next request. Responses
// are serialised through a write mutex and may complete out of order; the
// client correlates them by id. Notifications produce no response at all.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewStdioTransport constructs a transport over the given streams. All log
// output targets stderr so stdout stays clean for framing.
//
// Usage with real stdio:
//
//	t := rpc.NewStdioTransport(srv, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "marrow-mcp: ", log.LstdFlags),
	}
}

// Serve processes requests until the input is closed or ctx is cancelled.
// In-flight handlers are waited for before returning, so every accepted
// request with an id gets exactly one response.
func (t *StdioTransport) Serve(ctx context.Context) error {
	defer t.wg.Wait()

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, maxFrameBytes), maxFrameBytes)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer across Scan calls; the handler
		// goroutine needs its own copy.
		frame := make([]byte, len(line))
		copy(frame, line)

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if resp := t.server.Handle(ctx, frame); resp != nil {
				if err := t.write(resp); err != nil {
					t.logger.Printf("write error: %v", err)
				}
			}
		}()
	}
}

// write emits one newline-terminated response frame under the write mutex
// so concurrent handlers never interleave bytes.
func (t *StdioTransport) write(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(frame); err != nil {
		return err
	}
	_, err := t.out.Write([]byte{'\n'})
	return err
}
