package execlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleSink writes entries to a writer as they arrive.
//
// Supports two output modes:
//   - Text mode (default): human-readable format with key=value pairs
//   - JSON mode: machine-readable JSON, one entry per line
//
// Example text output:
//
//	2026-01-02T15:04:05Z INFO  [NODE_START] exec=abc123 node started: Fetch
//
// Example JSON output:
//
//	{"id":"...","executionId":"abc123","level":2,"category":"NODE_START",...}
//
// Entries below the configured minimum level are dropped.
type ConsoleSink struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
	minLevel Level
}

// NewConsoleSink creates a console sink.
//
// Parameters:
//   - writer: where output goes (nil defaults to os.Stdout)
//   - jsonMode: if true, emit one JSON object per line; otherwise text
//   - minLevel: entries below this level are dropped
func NewConsoleSink(writer io.Writer, jsonMode bool, minLevel Level) *ConsoleSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &ConsoleSink{
		writer:   writer,
		jsonMode: jsonMode,
		minLevel: minLevel,
	}
}

// Handle writes the entry if it meets the minimum level.
func (c *ConsoleSink) Handle(e Entry) {
	if e.Level < c.minLevel {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jsonMode {
		c.writeJSON(e)
		return
	}
	c.writeText(e)
}

func (c *ConsoleSink) writeJSON(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(c.writer, "{\"error\":\"failed to marshal entry: %v\"}\n", err)
		return
	}
	fmt.Fprintf(c.writer, "%s\n", data)
}

func (c *ConsoleSink) writeText(e Entry) {
	fmt.Fprintf(c.writer, "%s %-5s [%s] exec=%s %s",
		e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		e.Level, e.Category, e.ExecutionID, e.Message)

	if len(e.Context) > 0 {
		if ctxJSON, err := json.Marshal(e.Context); err == nil {
			fmt.Fprintf(c.writer, " context=%s", ctxJSON)
		}
	}
	fmt.Fprint(c.writer, "\n")
}
