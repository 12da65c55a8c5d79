package api

import (
	"bufio"
	"io"
	"strings"
)

// Minimal server-sent-events decoder for the reply token stream. Only the
// fields the backend emits are handled: "event", "data" (possibly spanning
// several lines) and comment lines, which are skipped.

type sseEvent struct {
	Name string
	Data string
}

type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseDecoder{scanner: scanner}
}

// Next returns the next complete event, or io.EOF when the stream ends
// cleanly between events.
func (d *sseDecoder) Next() (*sseEvent, error) {
	event := &sseEvent{}
	var data []string
	seen := false

	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" {
			if seen {
				event.Data = strings.Join(data, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Name = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if seen {
		event.Data = strings.Join(data, "\n")
		return event, nil
	}
	return nil, io.EOF
}
