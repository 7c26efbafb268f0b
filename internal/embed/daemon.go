package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultDaemonIdleTimeout unloads the daemon's embedder after this long
// without a request, per spec.md §6.4's "configurable idle-unload timer."
const DefaultDaemonIdleTimeout = 10 * time.Minute

// DaemonConfig configures the embedding daemon's socket/PID paths and
// idle lifecycle, grounded on the teacher's internal/daemon.Config.
type DaemonConfig struct {
	SocketPath  string
	PIDPath     string
	IdleTimeout time.Duration
}

// DefaultDaemonConfig returns socket/PID paths under the project's
// .amanmcp directory and the default idle-unload timer.
func DefaultDaemonConfig(dataDir string) DaemonConfig {
	return DaemonConfig{
		SocketPath:  dataDir + "/embed.sock",
		PIDPath:     dataDir + "/embed.pid",
		IdleTimeout: DefaultDaemonIdleTimeout,
	}
}

// Daemon serves embedding requests over a Unix socket on behalf of a
// lazily-loaded inner Embedder, so that repeated CLI invocations (index,
// search, research) don't each pay the embedder's own startup cost.
// Grounded on sia_code/embed_server/daemon.py's EmbedDaemon: lazy model
// load on first request, idle-unload timer, graceful shutdown cleaning
// up the PID file and socket.
type Daemon struct {
	cfg     DaemonConfig
	factory func(ctx context.Context) (Embedder, error)

	mu       sync.Mutex
	embedder Embedder
	lastUsed time.Time

	pidFile  *daemonPIDFile
	listener net.Listener
}

// NewDaemon creates a daemon that lazily constructs its embedder via
// factory on the first "embed" request.
func NewDaemon(cfg DaemonConfig, factory func(ctx context.Context) (Embedder, error)) *Daemon {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultDaemonIdleTimeout
	}
	return &Daemon{
		cfg:     cfg,
		factory: factory,
		pidFile: newDaemonPIDFile(cfg.PIDPath),
	}
}

// Serve starts the daemon and blocks until ctx is cancelled or a fatal
// error occurs, cleaning up the PID file and socket on exit.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	_ = os.Remove(d.cfg.SocketPath)
	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.SocketPath, err)
	}
	d.listener = listener
	defer func() {
		_ = listener.Close()
		_ = os.Remove(d.cfg.SocketPath)
		d.closeEmbedder()
	}()

	slog.Info("embed daemon listening", slog.String("socket", d.cfg.SocketPath))

	idleTicker := time.NewTicker(d.cfg.IdleTimeout / 4)
	defer idleTicker.Stop()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-idleTicker.C:
				d.unloadIfIdle()
			}
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("embed daemon accept error", slog.String("error", err.Error()))
			continue
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req daemonRequest
	if err := readFrame(conn, &req); err != nil {
		_ = writeFrame(conn, newErrorResponse("", "InvalidRequest", err.Error()))
		return
	}

	switch req.Method {
	case "embed":
		d.handleEmbed(ctx, conn, req)
	case "health":
		d.handleHealth(conn, req)
	default:
		_ = writeFrame(conn, newErrorResponse(req.ID, "UnknownMethod", fmt.Sprintf("unknown method: %s", req.Method)))
	}
}

func (d *Daemon) handleEmbed(ctx context.Context, conn net.Conn, req daemonRequest) {
	if req.Params == nil || req.Params.Model == "" || len(req.Params.Texts) == 0 {
		_ = writeFrame(conn, newErrorResponse(req.ID, "InvalidRequest", "missing model or texts"))
		return
	}

	embedder, err := d.embedderFor()
	if err != nil {
		_ = writeFrame(conn, newErrorResponse(req.ID, "ServerError", err.Error()))
		return
	}

	vectors, err := embedder.EmbedBatch(ctx, req.Params.Texts)
	if err != nil {
		_ = writeFrame(conn, newErrorResponse(req.ID, "ServerError", err.Error()))
		return
	}

	_ = writeFrame(conn, daemonResponse{ID: req.ID, Result: &daemonResult{
		Embeddings: vectors,
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Device:     "cpu",
	}})
}

func (d *Daemon) handleHealth(conn net.Conn, req daemonRequest) {
	d.mu.Lock()
	loaded := d.embedder != nil
	var models []string
	if loaded {
		models = []string{d.embedder.ModelName()}
	}
	d.mu.Unlock()

	device := "not initialized"
	if loaded {
		device = "cpu"
	}

	_ = writeFrame(conn, daemonResponse{ID: req.ID, Result: &daemonResult{
		Status:       "ok",
		ModelsLoaded: models,
		Device:       device,
	}})
}

// embedderFor lazily constructs the inner embedder on first use.
func (d *Daemon) embedderFor() (Embedder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastUsed = time.Now()
	if d.embedder != nil {
		return d.embedder, nil
	}

	embedder, err := d.factory(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load embedder: %w", err)
	}
	slog.Info("embed daemon loaded model", slog.String("model", embedder.ModelName()))
	d.embedder = embedder
	return embedder, nil
}

// unloadIfIdle releases the inner embedder once IdleTimeout has elapsed
// since the last request, so a loaded model doesn't pin memory forever.
func (d *Daemon) unloadIfIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.embedder == nil || time.Since(d.lastUsed) < d.cfg.IdleTimeout {
		return
	}
	slog.Info("embed daemon unloading idle model", slog.String("model", d.embedder.ModelName()))
	_ = d.embedder.Close()
	d.embedder = nil
}

func (d *Daemon) closeEmbedder() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.embedder != nil {
		_ = d.embedder.Close()
		d.embedder = nil
	}
}

// Close stops the daemon's listener, unblocking Serve's Accept loop.
func (d *Daemon) Close() error {
	if d.listener != nil {
		return d.listener.Close()
	}
	return nil
}

// PIDPath returns the daemon's configured PID file path.
func (d *Daemon) PIDPath() string { return d.cfg.PIDPath }
