package embed

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	pcierrors "github.com/Aman-CERP/amanmcp/internal/errors"
)

// DaemonClient is an Embedder that forwards requests to an embed.Daemon
// over its Unix socket, letting multiple short-lived CLI invocations
// share one already-warm embedder process (spec.md §6.4). Grounded on
// sia_code/embed_server (protocol.py's client side) and the teacher's
// internal/daemon.Client dial/timeout idiom.
type DaemonClient struct {
	socketPath string
	timeout    time.Duration
	model      string
	dims       int
	nextID     uint64
	cb         *pcierrors.CircuitBreaker
}

// NewDaemonClient creates a client dialing the given socket. model/dims
// are used only for ModelName/Dimensions before the first round trip
// confirms them from the daemon's response. A dedicated circuit breaker
// guards the transport: once the daemon starts failing (crashed, wedged,
// socket gone) calls fail fast with pcierrors.ErrCircuitOpen instead of
// blocking on dial timeouts for every caller.
func NewDaemonClient(socketPath, model string, dims int) *DaemonClient {
	return &DaemonClient{
		socketPath: socketPath,
		timeout:    30 * time.Second,
		model:      model,
		dims:       dims,
		cb:         pcierrors.NewCircuitBreaker("embed-daemon"),
	}
}

// IsRunning reports whether a daemon is listening on the socket.
func (c *DaemonClient) IsRunning() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *DaemonClient) call(ctx context.Context, req daemonRequest) (*daemonResult, error) {
	var result *daemonResult
	err := c.cb.Execute(func() error {
		conn, dialErr := net.DialTimeout("unix", c.socketPath, c.timeout)
		if dialErr != nil {
			return fmt.Errorf("failed to connect to embed daemon: %w", dialErr)
		}
		defer conn.Close()

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		} else {
			_ = conn.SetDeadline(time.Now().Add(c.timeout))
		}

		if err := writeFrame(conn, req); err != nil {
			return err
		}

		var resp daemonResponse
		if err := readFrame(conn, &resp); err != nil {
			return fmt.Errorf("failed to read embed daemon response: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("embed daemon error (%s): %s", resp.Error.Type, resp.Error.Message)
		}
		result = resp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *DaemonClient) requestID() string {
	return strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)
}

// Embed implements Embedder.
func (c *DaemonClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed daemon returned no vectors")
	}
	return vectors[0], nil
}

// EmbedBatch implements Embedder.
func (c *DaemonClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := c.call(ctx, daemonRequest{
		ID:     c.requestID(),
		Method: "embed",
		Params: &daemonEmbedParams{Model: c.model, Texts: texts},
	})
	if err != nil {
		return nil, err
	}
	if result.Dimensions > 0 {
		c.dims = result.Dimensions
	}
	if result.Model != "" {
		c.model = result.Model
	}
	return result.Embeddings, nil
}

// Dimensions implements Embedder.
func (c *DaemonClient) Dimensions() int { return c.dims }

// ModelName implements Embedder.
func (c *DaemonClient) ModelName() string { return c.model }

// Available implements Embedder.
func (c *DaemonClient) Available(ctx context.Context) bool {
	_, err := c.call(ctx, daemonRequest{ID: c.requestID(), Method: "health"})
	return err == nil
}

// Close implements Embedder. The client holds no persistent connection,
// so there is nothing to release; the daemon process outlives it.
func (c *DaemonClient) Close() error { return nil }

var _ Embedder = (*DaemonClient)(nil)
