package logging

import (
	"context"
	"fmt"
	"time"
)

// Specialized emitters. Each is sugar over Emit: a canonical message prefix
// composed from the structured fields plus a metadata sub-object, with a
// fixed severity mapping.

// merged returns md extended with the emitter's own sub-object under key.
func mdWith(md map[string]any, key string, sub map[string]any) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out[key] = sub
	return out
}

// StepStarted marks the beginning of a named processing step.
func (l *Logger) StepStarted(ctx context.Context, step string, md map[string]any) error {
	return l.Info(ctx, "Step started: "+step, mdWith(md, "step", map[string]any{
		"name": step, "phase": "started",
	}))
}

// StepProgress reports intermediate progress of a step.
func (l *Logger) StepProgress(ctx context.Context, step string, progress float64, md map[string]any) error {
	return l.Info(ctx, fmt.Sprintf("Step progress: %s (%.0f%%)", step, progress*100), mdWith(md, "step", map[string]any{
		"name": step, "phase": "progress", "progress": progress,
	}))
}

// StepCompleted marks a step as finished.
func (l *Logger) StepCompleted(ctx context.Context, step string, dur time.Duration, md map[string]any) error {
	return l.Info(ctx, "Step completed: "+step, mdWith(md, "step", map[string]any{
		"name": step, "phase": "completed", "duration_ms": dur.Milliseconds(),
	}))
}

// StepFailed marks a step as failed; always error level.
func (l *Logger) StepFailed(ctx context.Context, step string, err error, md map[string]any) error {
	sub := map[string]any{"name": step, "phase": "failed"}
	if err != nil {
		sub["error"] = err.Error()
	}
	return l.Error(ctx, "Step failed: "+step, mdWith(md, "step", sub))
}

// HTTPRequest records an inbound request at http level.
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, md map[string]any) error {
	return l.HTTP(ctx, fmt.Sprintf("HTTP request: %s %s", method, path), mdWith(md, "http", map[string]any{
		"method": method, "path": path, "direction": "in",
	}))
}

// HTTPResponse records a response; 5xx is error, 4xx is warn, else http.
func (l *Logger) HTTPResponse(ctx context.Context, method, path string, status int, dur time.Duration, md map[string]any) error {
	level := LevelHTTP
	switch {
	case status >= 500:
		level = LevelError
	case status >= 400:
		level = LevelWarn
	}
	return l.Emit(ctx, level, fmt.Sprintf("HTTP response: %s %s %d", method, path, status), mdWith(md, "http", map[string]any{
		"method": method, "path": path, "status": status, "duration_ms": dur.Milliseconds(),
	}))
}

// Retry records a retry attempt; the final attempt is error, earlier warn.
func (l *Logger) Retry(ctx context.Context, op string, attempt, max int, err error, md map[string]any) error {
	level := LevelWarn
	if attempt >= max {
		level = LevelError
	}
	sub := map[string]any{"operation": op, "attempt": attempt, "max_attempts": max}
	if err != nil {
		sub["error"] = err.Error()
	}
	return l.Emit(ctx, level, fmt.Sprintf("Retry %d/%d: %s", attempt, max, op), mdWith(md, "retry", sub))
}

// Exception records an error with its type and message; the sanitizer masks
// anything sensitive inside the message.
func (l *Logger) Exception(ctx context.Context, err error, md map[string]any) error {
	sub := map[string]any{"error": err}
	return l.Error(ctx, "Exception: "+fmt.Sprintf("%T", err), mdWith(md, "exception", sub))
}

// WebhookIn records an inbound webhook delivery.
func (l *Logger) WebhookIn(ctx context.Context, source, event string, md map[string]any) error {
	return l.Info(ctx, fmt.Sprintf("Webhook received: %s/%s", source, event), mdWith(md, "webhook", map[string]any{
		"source": source, "event": event, "direction": "in",
	}))
}

// WebhookOut records an outbound webhook dispatch.
func (l *Logger) WebhookOut(ctx context.Context, target, event string, md map[string]any) error {
	return l.Info(ctx, fmt.Sprintf("Webhook sent: %s/%s", target, event), mdWith(md, "webhook", map[string]any{
		"target": target, "event": event, "direction": "out",
	}))
}

// WebSocketEvent records a websocket lifecycle event; "error" maps to
// error level, "disconnect" to warn, everything else info.
func (l *Logger) WebSocketEvent(ctx context.Context, event string, md map[string]any) error {
	level := LevelInfo
	switch event {
	case "error":
		level = LevelError
	case "disconnect":
		level = LevelWarn
	}
	return l.Emit(ctx, level, "WebSocket event: "+event, mdWith(md, "websocket", map[string]any{
		"event": event,
	}))
}

// DatabaseOp records a database operation; operations at or above one
// second are warn, else debug.
func (l *Logger) DatabaseOp(ctx context.Context, op, table string, dur time.Duration, md map[string]any) error {
	level := LevelDebug
	if dur >= time.Second {
		level = LevelWarn
	}
	return l.Emit(ctx, level, fmt.Sprintf("DB %s: %s", op, table), mdWith(md, "database", map[string]any{
		"operation": op, "table": table, "duration_ms": dur.Milliseconds(),
	}))
}

// CacheOp records a cache access at debug level.
func (l *Logger) CacheOp(ctx context.Context, op, key string, hit bool, md map[string]any) error {
	return l.Debug(ctx, fmt.Sprintf("Cache %s: %s", op, key), mdWith(md, "cache", map[string]any{
		"operation": op, "key": key, "hit": hit,
	}))
}

// QueueOp records a message-queue operation.
func (l *Logger) QueueOp(ctx context.Context, queue, op string, md map[string]any) error {
	return l.Info(ctx, fmt.Sprintf("Queue %s: %s", op, queue), mdWith(md, "queue", map[string]any{
		"queue": queue, "operation": op,
	}))
}

// ExternalAPI records an outbound API call; 5xx error, 4xx warn, else info.
func (l *Logger) ExternalAPI(ctx context.Context, service, endpoint string, status int, dur time.Duration, md map[string]any) error {
	level := LevelInfo
	switch {
	case status >= 500:
		level = LevelError
	case status >= 400:
		level = LevelWarn
	}
	return l.Emit(ctx, level, fmt.Sprintf("External API: %s %s %d", service, endpoint, status), mdWith(md, "external_api", map[string]any{
		"service": service, "endpoint": endpoint, "status": status, "duration_ms": dur.Milliseconds(),
	}))
}

// AuthEvent records an authentication event; failures are warn.
func (l *Logger) AuthEvent(ctx context.Context, event, userID string, success bool, md map[string]any) error {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	return l.Emit(ctx, level, "Auth event: "+event, mdWith(md, "auth", map[string]any{
		"event": event, "user_id": userID, "success": success,
	}))
}

// FileOp records a filesystem operation at debug level.
func (l *Logger) FileOp(ctx context.Context, op, path string, md map[string]any) error {
	return l.Debug(ctx, fmt.Sprintf("File %s: %s", op, path), mdWith(md, "file", map[string]any{
		"operation": op, "path": path,
	}))
}

// Payment records a payment lifecycle event.
func (l *Logger) Payment(ctx context.Context, event string, amount float64, currency string, md map[string]any) error {
	return l.Info(ctx, "Payment event: "+event, mdWith(md, "payment", map[string]any{
		"event": event, "amount": amount, "currency": currency,
	}))
}
