package jsonrpc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/google/uuid"
)

const (
	ContentEventStream = "text/event-stream"

	sseDataPrefix = "data:"

	// maxSSELine bounds one data line; task snapshots can exceed bufio's 64KB default
	maxSSELine = 10 << 20
)

var errStreamingUnsupported = errors.New("streaming not supported by response writer")

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeHeaders() {
	h := s.w.Header()
	h.Set("Content-Type", ContentEventStream)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) writeData(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "id: %s\n%s %s\n\n", uuid.NewString(), sseDataPrefix, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeKeepAlive() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ParseDataStream yields the payload of every data line in an SSE body.
// Comments, ids and blank lines are skipped.
func ParseDataStream(body io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxSSELine)
		prefix := []byte(sseDataPrefix)

		for scanner.Scan() {
			line := scanner.Bytes()
			if !bytes.HasPrefix(line, prefix) {
				continue
			}
			data := bytes.TrimPrefix(line[len(prefix):], []byte(" "))
			if !yield(bytes.Clone(data), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read event stream: %w", err))
		}
	}
}
