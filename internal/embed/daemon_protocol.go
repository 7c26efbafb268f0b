package embed

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Embedding daemon wire protocol (spec.md §6.4): Unix-domain-socket
// request/response with length-prefixed framing — a 4-byte big-endian
// payload length followed by a UTF-8 JSON payload. Distinct from the
// teacher's own JSON-RPC compaction-daemon protocol (internal/daemon),
// grounded instead on sia_code/embed_server/protocol.py's Message
// framing.

// maxFrameBytes bounds a single frame to guard against a corrupt or
// hostile length prefix (protocol.py's max_bytes, default 50MB).
const maxFrameBytes = 50_000_000

// daemonRequest mirrors protocol.py's EmbedRequest/HealthRequest shape.
type daemonRequest struct {
	ID     string             `json:"id"`
	Method string             `json:"method"`
	Params *daemonEmbedParams `json:"params,omitempty"`
}

type daemonEmbedParams struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// daemonResponse mirrors protocol.py's EmbedResponse/HealthResponse/
// ErrorResponse shape — exactly one of Result/Error is set.
type daemonResponse struct {
	ID     string        `json:"id"`
	Result *daemonResult `json:"result,omitempty"`
	Error  *daemonError  `json:"error,omitempty"`
}

type daemonResult struct {
	// Embed response fields.
	Embeddings [][]float32 `json:"embeddings,omitempty"`
	Model      string      `json:"model,omitempty"`
	Dimensions int         `json:"dimensions,omitempty"`
	Device     string      `json:"device,omitempty"`

	// Health response fields.
	Status       string   `json:"status,omitempty"`
	ModelsLoaded []string `json:"models_loaded,omitempty"`
	MemoryMB     float64  `json:"memory_mb,omitempty"`
}

type daemonError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorResponse(id, errType, message string) daemonResponse {
	return daemonResponse{ID: id, Error: &daemonError{Type: errType, Message: message}}
}

// writeFrame writes a length-prefixed JSON message to w.
func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// readFrame reads a length-prefixed JSON message from r into v.
func readFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("failed to read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrameBytes {
		return fmt.Errorf("frame size %d exceeds %d byte limit", n, maxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read frame payload: %w", err)
	}
	return json.Unmarshal(payload, v)
}
