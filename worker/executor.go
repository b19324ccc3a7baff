package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxforge/syncengine/synctask"
	"github.com/gorilla/websocket"
)

// Executor runs one SyncTask to completion and reports a Result. WorkerID
// and PlanID are filled in by the caller; Execute only fills TaskID,
// Payload/Message, and CompletedAt.
type Executor interface {
	Execute(ctx context.Context, t *synctask.SyncTask) Result
}

// HTTPExecutor drives the short-running HTTP_API sync mode: one request per
// task.
type HTTPExecutor struct {
	Client *http.Client
}

// NewHTTPExecutor builds an HTTPExecutor with a bounded request timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{Client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Execute(ctx context.Context, t *synctask.SyncTask) Result {
	var body io.Reader
	if len(t.Spec.Payload) > 0 {
		body = bytes.NewReader(t.Spec.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, string(t.Spec.Method), t.Spec.URL.String(), body)
	if err != nil {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
	}
	for k, v := range t.Spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
	}
	if resp.StatusCode >= 400 {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: fmt.Sprintf("status %d", resp.StatusCode), CompletedAt: time.Now()}
	}
	return Result{Kind: ResultCompleted, TaskID: t.ID, Payload: json.RawMessage(payload), CompletedAt: time.Now()}
}

// StreamExecutor drives the long-running WEBSOCKET_STREAMING sync mode: one
// frame round-trip per task, over a dialed websocket connection.
type StreamExecutor struct {
	Dialer *websocket.Dialer
}

// NewStreamExecutor builds a StreamExecutor with a bounded handshake timeout.
func NewStreamExecutor(handshakeTimeout time.Duration) *StreamExecutor {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &StreamExecutor{Dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout}}
}

func (e *StreamExecutor) Execute(ctx context.Context, t *synctask.SyncTask) Result {
	conn, _, err := e.Dialer.DialContext(ctx, t.Spec.URL.String(), nil)
	if err != nil {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
	}
	defer conn.Close()

	if len(t.Spec.Payload) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, t.Spec.Payload); err != nil {
			return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
		}
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return Result{Kind: ResultFailed, TaskID: t.ID, Message: err.Error(), CompletedAt: time.Now()}
	}
	return Result{Kind: ResultCompleted, TaskID: t.ID, Payload: json.RawMessage(payload), CompletedAt: time.Now()}
}
