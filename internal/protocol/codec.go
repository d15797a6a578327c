// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
)

// SplitFrame splits a single WebSocket text frame into its constituent
// NDJSON lines. A frame may carry more than one line; empty lines are
// dropped.
func SplitFrame(frame []byte) [][]byte {
	raw := bytes.Split(frame, []byte("\n"))
	lines := make([][]byte, 0, len(raw))
	for _, l := range raw {
		l = bytes.TrimSpace(l)
		if len(l) == 0 {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// DecodeLine parses one NDJSON line into an InEvent. A malformed line
// (invalid JSON) returns an error; the caller MUST log and skip rather
// than close the connection. An unrecognized Type/Subtype is not an
// error — it decodes into an InEvent whose Type the caller doesn't
// recognize, which the caller then logs and skips.
func DecodeLine(line []byte) (*InEvent, error) {
	var ev InEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode protocol line: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("decode protocol line: missing type")
	}
	return &ev, nil
}

// DecodeInnerStreamEvent parses the nested "event" payload of a
// stream_event frame.
func DecodeInnerStreamEvent(raw json.RawMessage) (*StreamInnerEvent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode stream_event: empty event")
	}
	var inner StreamInnerEvent
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("decode stream_event: %w", err)
	}
	return &inner, nil
}

// DecodeFrame decodes every line of a frame, logging and skipping any
// line that fails to parse as JSON, and returns the successfully decoded
// events in wire order.
func DecodeFrame(frame []byte, logger *log.Logger) []*InEvent {
	lines := SplitFrame(frame)
	events := make([]*InEvent, 0, len(lines))
	for _, line := range lines {
		ev, err := DecodeLine(line)
		if err != nil {
			if logger != nil {
				logger.Printf("protocol: malformed line skipped: %v", err)
			}
			continue
		}
		events = append(events, ev)
	}
	return events
}

// EncodeLine marshals v and appends the NDJSON line terminator.
func EncodeLine(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode protocol line: %w", err)
	}
	return append(data, '\n'), nil
}
