package execlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// previewLimit caps stringified payload values in *Preview context keys.
	previewLimit = 100

	// expressionLimit caps the expression text in EXPRESSION_EVAL entries.
	expressionLimit = 200

	// stackLimit caps the captured stack trace in ERROR entries.
	stackLimit = 4096

	// modulePrefix identifies user-code frames when locating the error source.
	modulePrefix = "github.com/dshills/flowrun-go"
)

// Logger maintains per-execution log buffers, assigns entry IDs, fans
// entries out to sinks, and computes summaries.
//
// Buffers are single-writer per execution but multi-reader; they outlive
// the execution for querying until explicitly cleared. Callers should
// Clear after export. Sink errors and panics are swallowed: logging
// never affects execution.
type Logger struct {
	mu         sync.RWMutex
	buffers    map[string][]Entry
	sinks      []Sink
	now        func() time.Time
	maxEntries int
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithNow injects the timestamp source, for tests and hosts with a
// shared clock.
func WithNow(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		l.now = now
	}
}

// WithMaxEntries caps the number of entries retained per execution.
// When the cap is hit, the oldest entries are evicted. Zero means
// unlimited.
func WithMaxEntries(n int) LoggerOption {
	return func(l *Logger) {
		l.maxEntries = n
	}
}

// NewLogger creates a Logger with no sinks attached.
func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		buffers: make(map[string][]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddSink attaches a sink. Every subsequent entry is handed to it.
func (l *Logger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// RemoveSink detaches a previously added sink (identity comparison).
func (l *Logger) RemoveSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.sinks {
		if existing == s {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			return
		}
	}
}

// append stores the entry and dispatches it to sinks.
func (l *Logger) append(e Entry) {
	l.mu.Lock()
	buf := append(l.buffers[e.ExecutionID], e)
	if l.maxEntries > 0 && len(buf) > l.maxEntries {
		buf = buf[len(buf)-l.maxEntries:]
	}
	l.buffers[e.ExecutionID] = buf
	sinks := make([]Sink, len(l.sinks))
	copy(sinks, l.sinks)
	l.mu.Unlock()

	for _, s := range sinks {
		dispatch(s, e)
	}
}

// dispatch isolates sink failures: a panicking sink drops the entry and
// nothing else.
func dispatch(s Sink, e Entry) {
	defer func() {
		_ = recover()
	}()
	s.Handle(e)
}

func (l *Logger) entry(execID string, level Level, cat Category, msg string, ctx map[string]any) Entry {
	return Entry{
		ID:          uuid.NewString(),
		ExecutionID: execID,
		Timestamp:   l.now(),
		Level:       level,
		Category:    cat,
		Message:     msg,
		Context:     ctx,
	}
}

// StartExecution initializes the execution's buffer and emits the start
// entry.
func (l *Logger) StartExecution(execID, workflowID, workflowName string) {
	l.mu.Lock()
	if _, ok := l.buffers[execID]; !ok {
		l.buffers[execID] = nil
	}
	l.mu.Unlock()

	l.append(l.entry(execID, LevelInfo, CategoryExecutionStart,
		"execution started: "+workflowName,
		map[string]any{
			"workflowId":   workflowID,
			"workflowName": workflowName,
		}))
}

// EndExecution emits the terminal entry. result may be nil.
func (l *Logger) EndExecution(execID string, success bool, result map[string]any) {
	ctx := map[string]any{
		"success": success,
	}
	if result != nil {
		ctx["resultPreview"] = previewMap(result)
	}
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	l.append(l.entry(execID, level, CategoryExecutionEnd, "execution finished", ctx))
}

// NodeStart emits a NODE_START entry.
func (l *Logger) NodeStart(execID, nodeID, nodeName string) {
	l.append(l.entry(execID, LevelInfo, CategoryNodeStart,
		"node started: "+nodeName,
		nodeCtx(nodeID, nodeName)))
}

// NodeEnd emits a NODE_END entry with the measured duration.
func (l *Logger) NodeEnd(execID, nodeID, nodeName string, success bool, duration time.Duration) {
	ctx := nodeCtx(nodeID, nodeName)
	ctx["success"] = success
	ctx["durationMs"] = duration.Milliseconds()
	level := LevelInfo
	if !success {
		level = LevelError
	}
	l.append(l.entry(execID, level, CategoryNodeEnd, "node finished: "+nodeName, ctx))
}

// NodeSkip emits a NODE_SKIP entry for a disabled node.
func (l *Logger) NodeSkip(execID, nodeID, nodeName, reason string) {
	ctx := nodeCtx(nodeID, nodeName)
	ctx["reason"] = reason
	l.append(l.entry(execID, LevelDebug, CategoryNodeSkip, "node skipped: "+nodeName, ctx))
}

// NodeInput emits a NODE_INPUT entry carrying both a truncated preview
// and the deep-copied full input map.
func (l *Logger) NodeInput(execID, nodeID, nodeName string, input map[string]any) {
	ctx := nodeCtx(nodeID, nodeName)
	ctx["inputPreview"] = previewMap(input)
	ctx["inputDataFull"] = deepCopy(input)
	l.append(l.entry(execID, LevelDebug, CategoryNodeInput, "node input: "+nodeName, ctx))
}

// NodeOutput emits a NODE_OUTPUT entry carrying both a truncated preview
// and the deep-copied full output map.
func (l *Logger) NodeOutput(execID, nodeID, nodeName string, output map[string]any) {
	ctx := nodeCtx(nodeID, nodeName)
	ctx["outputPreview"] = previewMap(output)
	ctx["outputDataFull"] = deepCopy(output)
	l.append(l.entry(execID, LevelDebug, CategoryNodeOutput, "node output: "+nodeName, ctx))
}

// DataFlow emits a DATA_FLOW entry describing data routed along an edge.
func (l *Logger) DataFlow(execID, fromNodeID, toNodeID string, data map[string]any) {
	l.append(l.entry(execID, LevelTrace, CategoryDataFlow, "data flow", map[string]any{
		"fromNodeId":  fromNodeID,
		"toNodeId":    toNodeID,
		"dataPreview": previewMap(data),
	}))
}

// Variable emits a VARIABLE entry recording a named value.
func (l *Logger) Variable(execID, nodeID, name string, value any) {
	l.append(l.entry(execID, LevelTrace, CategoryVariable, "variable: "+name, map[string]any{
		"nodeId":       nodeID,
		"name":         name,
		"valuePreview": preview(value),
	}))
}

// ExpressionEval emits an EXPRESSION_EVAL entry. The expression text is
// truncated to 200 characters.
func (l *Logger) ExpressionEval(execID, nodeID, expression string, result any, success bool) {
	l.append(l.entry(execID, LevelTrace, CategoryExpressionEval, "expression evaluated", map[string]any{
		"nodeId":        nodeID,
		"expression":    truncate(expression, expressionLimit),
		"resultPreview": preview(result),
		"success":       success,
	}))
}

// Retry emits a RETRY entry for an executor-internal retry attempt.
func (l *Logger) Retry(execID, nodeID string, attempt int, cause error) {
	ctx := map[string]any{
		"nodeId":  nodeID,
		"attempt": attempt,
	}
	if cause != nil {
		ctx["cause"] = cause.Error()
	}
	l.append(l.entry(execID, LevelWarn, CategoryRetry, "retrying node", ctx))
}

// RateLimit emits a RATE_LIMIT entry.
func (l *Logger) RateLimit(execID, nodeID, detail string) {
	l.append(l.entry(execID, LevelWarn, CategoryRateLimit, "rate limited", map[string]any{
		"nodeId": nodeID,
		"detail": detail,
	}))
}

// Performance emits a PERFORMANCE entry with a named duration metric.
func (l *Logger) Performance(execID, nodeID, metric string, d time.Duration) {
	l.append(l.entry(execID, LevelDebug, CategoryPerformance, "performance: "+metric, map[string]any{
		"nodeId":     nodeID,
		"metric":     metric,
		"durationMs": d.Milliseconds(),
	}))
}

// Custom emits a CUSTOM entry with caller-provided context.
func (l *Logger) Custom(execID string, level Level, msg string, ctx map[string]any) {
	l.append(l.entry(execID, level, CategoryCustom, msg, ctx))
}

// ErrorWithContext emits an ERROR entry capturing the error type, the
// root cause, the first stack frame inside this module, and a truncated
// preview of the input at the time of failure.
func (l *Logger) ErrorWithContext(execID, nodeID, nodeName string, inputAtError map[string]any, err error) {
	ctx := map[string]any{
		"nodeId":       nodeID,
		"nodeName":     nodeName,
		"errorType":    fmt.Sprintf("%T", err),
		"errorMessage": err.Error(),
	}

	if root := rootCause(err); root != nil && root != err {
		ctx["rootCauseType"] = fmt.Sprintf("%T", root)
		ctx["rootCauseMessage"] = root.Error()
	}

	if fn, file, line, ok := userFrame(); ok {
		ctx["sourceFunction"] = fn
		ctx["sourceFile"] = file
		ctx["sourceLine"] = line
		ctx["sourceLocation"] = fmt.Sprintf("%s:%d", file, line)
	}
	ctx["stackTrace"] = truncate(stackTrace(), stackLimit)

	if inputAtError != nil {
		ctx["inputPreview"] = previewMap(inputAtError)
	}

	l.append(l.entry(execID, LevelError, CategoryError, "node error: "+err.Error(), ctx))
}

// Entries returns a copy of the execution's buffered entries.
func (l *Logger) Entries(execID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	buf := l.buffers[execID]
	out := make([]Entry, len(buf))
	copy(out, buf)
	return out
}

// Export serializes the execution's entries as JSON.
func (l *Logger) Export(execID string) ([]byte, error) {
	return json.MarshalIndent(l.Entries(execID), "", "  ")
}

// Clear discards the execution's buffer.
func (l *Logger) Clear(execID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buffers, execID)
}

// ClearAll discards every buffer.
func (l *Logger) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffers = make(map[string][]Entry)
}

// Summary aggregates an execution's buffer: entry counts per severity,
// the number of completed nodes, the buffer's wall-clock span, and the
// success flag from the EXECUTION_END entry.
type Summary struct {
	EntryCounts map[string]int `json:"entryCounts"`
	NodeCount   int            `json:"nodeCount"`
	DurationMs  int64          `json:"durationMs"`
	Success     bool           `json:"success"`
}

// Summary computes the summary for an execution.
func (l *Logger) Summary(execID string) Summary {
	entries := l.Entries(execID)

	s := Summary{
		EntryCounts: make(map[string]int),
	}
	for _, e := range entries {
		s.EntryCounts[e.Level.String()]++
		if e.Category == CategoryNodeEnd {
			s.NodeCount++
		}
		if e.Category == CategoryExecutionEnd {
			if ok, isBool := e.Context["success"].(bool); isBool {
				s.Success = ok
			}
		}
	}
	if len(entries) > 1 {
		s.DurationMs = entries[len(entries)-1].Timestamp.Sub(entries[0].Timestamp).Milliseconds()
	}
	return s
}

func nodeCtx(nodeID, nodeName string) map[string]any {
	return map[string]any{
		"nodeId":   nodeID,
		"nodeName": nodeName,
	}
}

// preview stringifies a value and truncates it to the preview limit.
func preview(v any) string {
	return truncate(fmt.Sprintf("%v", v), previewLimit)
}

// previewMap builds a preview map with each value truncated.
func previewMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = preview(v)
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// deepCopy clones a payload map via JSON round-trip; unserializable
// payloads fall back to a shallow copy so logging never fails.
func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err == nil {
		var copied map[string]any
		if json.Unmarshal(data, &copied) == nil {
			return copied
		}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// rootCause unwraps to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// userFrame walks the call stack and returns the first frame belonging
// to this module outside the execlog package.
func userFrame() (fn, file string, line int, ok bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if strings.Contains(frame.Function, modulePrefix) &&
			!strings.Contains(frame.Function, modulePrefix+"/flow/execlog") {
			return frame.Function, frame.File, frame.Line, true
		}
		if !more {
			return "", "", 0, false
		}
	}
}

// stackTrace formats the current call stack.
func stackTrace() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			return sb.String()
		}
	}
}
