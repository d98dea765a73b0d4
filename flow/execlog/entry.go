// Package execlog provides the structured, category-tagged execution
// logger: per-execution in-memory buffers with fan-out to pluggable
// sinks, full input/output snapshots per node, and summaries.
package execlog

import (
	"strings"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the canonical upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "INFO"
	}
}

// ParseLevel converts a level name (any case) to a Level. Unknown names
// default to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Category tags a log entry with the execution event it describes. The
// set is closed; CUSTOM covers everything executors invent.
type Category string

const (
	CategoryExecutionStart Category = "EXECUTION_START"
	CategoryExecutionEnd   Category = "EXECUTION_END"
	CategoryNodeStart      Category = "NODE_START"
	CategoryNodeEnd        Category = "NODE_END"
	CategoryNodeSkip       Category = "NODE_SKIP"
	CategoryNodeInput      Category = "NODE_INPUT"
	CategoryNodeOutput     Category = "NODE_OUTPUT"
	CategoryDataFlow       Category = "DATA_FLOW"
	CategoryVariable       Category = "VARIABLE"
	CategoryExpressionEval Category = "EXPRESSION_EVAL"
	CategoryError          Category = "ERROR"
	CategoryRetry          Category = "RETRY"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryPerformance    Category = "PERFORMANCE"
	CategoryCustom         Category = "CUSTOM"
)

// Entry is a single immutable log record. Node-scoped entries carry
// "nodeId" and "nodeName" in Context; NODE_INPUT and NODE_OUTPUT carry
// both a truncated preview and the deep-copied full payload so that
// inspection tools never depend on preview formatting.
type Entry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	Timestamp   time.Time      `json:"timestamp"`
	Level       Level          `json:"level"`
	Category    Category       `json:"category"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
}
