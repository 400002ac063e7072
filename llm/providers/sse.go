package providers

import (
	"bufio"
	"io"
	"strings"
)

// sseDecoder reads a text/event-stream body one "event: ...\ndata: ...\n\n"
// record at a time. It is intentionally minimal: providers' streaming
// Messages/Responses APIs use plain single-line data payloads, unlike the
// replay-buffer SSE stream this engine serves to its own clients (see the
// sse package), which needs id/retry handling this decoder does not.
type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{scanner: bufio.NewScanner(r)}
}

// Next returns the next event's name and data payload. ok is false once
// the stream ends.
func (d *sseDecoder) Next() (event string, data []byte, ok bool) {
	var dataLines []string
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			if event != "" || len(dataLines) > 0 {
				return event, []byte(strings.Join(dataLines, "\n")), true
			}
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if event != "" || len(dataLines) > 0 {
		return event, []byte(strings.Join(dataLines, "\n")), true
	}
	return "", nil, false
}
