// Package audit records every investigation event to a JSONL file for
// debugging, analysis, and reproducibility. Tool events keep the raw,
// untransformed output even when a transformer condensed what the model
// saw.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart marks the start of a new session.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeUserRequest marks the operator's request text.
	EventTypeUserRequest EventType = "user_request"
	// EventTypeStep marks one orchestrator step.
	EventTypeStep EventType = "step"
	// EventTypeToolStart marks the start of a tool invocation.
	EventTypeToolStart EventType = "tool_start"
	// EventTypeToolComplete marks the completion of a tool invocation.
	EventTypeToolComplete EventType = "tool_complete"
	// EventTypeLLMRequest logs each model request with token usage.
	EventTypeLLMRequest EventType = "llm_request"
	// EventTypeCheckResult logs a structured check verdict.
	EventTypeCheckResult EventType = "check_result"
	// EventTypeError marks an error during processing.
	EventTypeError EventType = "error"
	// EventTypeSessionMetrics logs aggregated session metrics.
	EventTypeSessionMetrics EventType = "session_metrics"
	// EventTypeSessionEnd marks the end of a session.
	EventTypeSessionEnd EventType = "session_end"
)

// Event represents a single audit log event.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Logger writes audit events to a JSONL file. Every write is flushed
// for crash safety.
type Logger struct {
	file      *os.File
	writer    *bufio.Writer
	mutex     sync.Mutex
	sessionID string
}

// DefaultPath returns the default session log location under the user's
// home directory.
func DefaultPath(sessionID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".inquest", "sessions", sessionID+".jsonl")
}

// NewLogger creates an audit logger appending to filePath, creating
// parent directories as needed.
func NewLogger(filePath, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		file:      file,
		writer:    bufio.NewWriter(file),
		sessionID: sessionID,
	}, nil
}

func (l *Logger) write(event Event) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}
	return nil
}

// LogSessionStart logs the start of a new session.
func (l *Logger) LogSessionStart(model, mode string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionStart,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"model": model,
			"mode":  mode,
		},
	})
}

// LogUserRequest logs the operator's request text.
func (l *Logger) LogUserRequest(request string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeUserRequest,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"request": request,
		},
	})
}

// LogStep logs one orchestrator step with its budget position.
func (l *Logger) LogStep(step, maxSteps, toolCalls int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeStep,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"step":       step,
			"max_steps":  maxSteps,
			"tool_calls": toolCalls,
		},
	})
}

// LogToolStart logs the start of a tool invocation.
func (l *Logger) LogToolStart(callID, toolName string, params map[string]interface{}) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeToolStart,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"call_id":   callID,
			"tool_name": toolName,
			"params":    params,
		},
	})
}

// LogToolComplete logs a finished tool invocation. rawOutput is the
// untransformed output; transformed is what the model actually saw.
func (l *Logger) LogToolComplete(callID, toolName, status string, duration time.Duration, rawOutput, transformed string, transformers []string) error {
	data := map[string]interface{}{
		"call_id":     callID,
		"tool_name":   toolName,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"raw_output":  rawOutput,
	}
	if transformed != rawOutput {
		data["transformed_output"] = transformed
		data["transformers"] = transformers
	}
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeToolComplete,
		SessionID: l.sessionID,
		Data:      data,
	})
}

// LogLLMRequest logs an individual model request with token usage.
func (l *Logger) LogLLMRequest(provider, model string, inputTokens, outputTokens int, stopReason string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeLLMRequest,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
			"stop_reason":   stopReason,
		},
	})
}

// LogCheckResult logs a structured check verdict.
func (l *Logger) LogCheckResult(passed bool, rationale string, retried bool) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeCheckResult,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"passed":    passed,
			"rationale": rationale,
			"retried":   retried,
		},
	})
}

// LogError logs an error during processing.
func (l *Logger) LogError(err error) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeError,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

// LogSessionMetrics logs aggregated metrics for the entire session.
func (l *Logger) LogSessionMetrics(totalRequests, totalInputTokens, totalOutputTokens, totalToolCalls int) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionMetrics,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"total_llm_requests":  totalRequests,
			"total_input_tokens":  totalInputTokens,
			"total_output_tokens": totalOutputTokens,
			"total_tokens":        totalInputTokens + totalOutputTokens,
			"total_tool_calls":    totalToolCalls,
		},
	})
}

// LogSessionEnd logs the end of a session.
func (l *Logger) LogSessionEnd(outcome string) error {
	return l.write(Event{
		Timestamp: time.Now(),
		Type:      EventTypeSessionEnd,
		SessionID: l.sessionID,
		Data: map[string]interface{}{
			"outcome": outcome,
		},
	})
}

// Close flushes pending writes and closes the file.
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error
	if err := l.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}
	return nil
}
