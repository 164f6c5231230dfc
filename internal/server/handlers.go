package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"modelrelay/internal/core"
	"modelrelay/internal/metrics"
	"modelrelay/internal/providers"
	"modelrelay/internal/queue"
	"modelrelay/internal/usage"
)

// anonymousUser attributes calls that arrive without an X-User-ID
// header. Authentication happens upstream of the gateway; the header is
// trusted as-is.
const anonymousUser = "anonymous"

// Executor is the routing surface the handlers call. The providers
// Router implements it; tests substitute fakes.
type Executor interface {
	Execute(ctx context.Context, req *core.ChatRequest) (*providers.Result, error)
	StreamGenerate(ctx context.Context, req *core.ChatRequest) (*core.Stream, error)
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	executor Executor
	models   core.ModelLookup
	jobs     queue.Queue
	recorder *usage.Recorder

	// DefaultModel, when set, is substituted into requests that omit
	// the model.
	DefaultModel string
}

// NewHandler creates a handler.
func NewHandler(executor Executor, models core.ModelLookup, jobs queue.Queue, recorder *usage.Recorder) *Handler {
	return &Handler{
		executor: executor,
		models:   models,
		jobs:     jobs,
		recorder: recorder,
	}
}

func (h *Handler) applyDefaultModel(req *core.ChatRequest) {
	if req != nil && req.Options.Model == "" && h.DefaultModel != "" {
		req.Options.Model = h.DefaultModel
	}
}

func userID(c echo.Context) string {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	return anonymousUser
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	queueState := "ok"
	if !h.jobs.Available() {
		queueState = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"queue":  queueState,
		"models": len(h.models.List()),
	})
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"models": h.models.List(),
	})
}

type chatCompletionResponse struct {
	Success  bool               `json:"success"`
	Data     *core.ChatResponse `json:"data"`
	Attempts int                `json:"attempts"`
}

// ChatCompletion handles POST /v1/chat/completions.
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewError(core.CodeInvalidRequest, "invalid request body", err))
	}
	h.applyDefaultModel(&req)

	start := time.Now()
	res, err := h.executor.Execute(c.Request().Context(), &req)
	if err != nil {
		return handleError(c, err)
	}
	metrics.RequestDuration.WithLabelValues("chat", res.Model).Observe(time.Since(start).Seconds())

	rec := h.recorder.Record(userID(c), res.Response, false)
	metrics.ObserveUsage(res.Model, res.Response.Usage, rec.CostUSD)

	return c.JSON(http.StatusOK, chatCompletionResponse{
		Success:  true,
		Data:     res.Response,
		Attempts: res.Attempts,
	})
}

// ChatStream handles POST /v1/chat/stream. Chunks go out as SSE data
// frames; the stream always ends with a [DONE] sentinel once headers
// are written.
func (h *Handler) ChatStream(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewError(core.CodeInvalidRequest, "invalid request body", err))
	}
	h.applyDefaultModel(&req)

	ctx := c.Request().Context()
	start := time.Now()
	stream, err := h.executor.StreamGenerate(ctx, &req)
	if err != nil {
		return handleError(c, err)
	}
	defer func() {
		_ = stream.Close() //nolint:errcheck
	}()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Accumulate the final response for accounting while relaying chunks.
	final := &core.ChatResponse{
		Model:        req.Options.Model,
		FinishReason: core.FinishStop,
	}
	for {
		chunk, err := stream.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Headers are out; surface the failure as an error frame.
			ge := core.AsError(err)
			writeSSE(w, ge.ToEnvelope())
			break
		}

		final.Text += chunk.Text
		if chunk.Done {
			if chunk.FinishReason != "" {
				final.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				final.Usage = *chunk.Usage
			}
		}
		writeSSE(w, chunk)
		w.Flush()
	}

	if _, err := w.Write([]byte("data: [DONE]\n\n")); err == nil {
		w.Flush()
	}

	metrics.RequestDuration.WithLabelValues("stream", req.Options.Model).Observe(time.Since(start).Seconds())
	rec := h.recorder.Record(userID(c), final, true)
	metrics.ObserveUsage(final.Model, final.Usage, rec.CostUSD)
	return nil
}

func writeSSE(w *echo.Response, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

type enqueueJobRequest struct {
	Request     *core.ChatRequest `json:"request"`
	Priority    queue.Priority    `json:"priority,omitempty"`
	DelayMS     int64             `json:"delay_ms,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
}

// EnqueueJob handles POST /v1/jobs.
func (h *Handler) EnqueueJob(c echo.Context) error {
	var body enqueueJobRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewError(core.CodeInvalidRequest, "invalid request body", err))
	}
	h.applyDefaultModel(body.Request)

	job, err := h.jobs.Enqueue(c.Request().Context(), queue.Spec{
		UserID:      userID(c),
		Request:     body.Request,
		Priority:    body.Priority,
		Delay:       time.Duration(body.DelayMS) * time.Millisecond,
		MaxAttempts: body.MaxAttempts,
	})
	if err != nil {
		return handleError(c, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.Priority)).Inc()
	return c.JSON(http.StatusAccepted, job)
}

// JobStatus handles GET /v1/jobs/:id.
func (h *Handler) JobStatus(c echo.Context) error {
	job, err := h.jobs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

// WaitJob handles GET /v1/jobs/:id/wait.
func (h *Handler) WaitJob(c echo.Context) error {
	timeout := defaultWaitTimeout
	if raw := c.QueryParam("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return handleError(c, core.Errorf(core.CodeInvalidRequest,
				"invalid timeout %q", raw))
		}
		timeout = d
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	job, err := h.jobs.WaitForCompletion(c.Request().Context(), c.Param("id"), timeout)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// CancelJob handles DELETE /v1/jobs/:id.
func (h *Handler) CancelJob(c echo.Context) error {
	if err := h.jobs.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RetryJob handles POST /v1/jobs/:id/retry.
func (h *Handler) RetryJob(c echo.Context) error {
	job, err := h.jobs.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// UserUsage handles GET /v1/usage. The optional since parameter is a
// duration looking back from now, e.g. since=24h.
func (h *Handler) UserUsage(c echo.Context) error {
	since, err := sinceParam(c)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, h.recorder.Summarize(userID(c), since))
}

// GlobalUsage handles GET /v1/usage/global. Takes the same optional
// since parameter as the per-user endpoint.
func (h *Handler) GlobalUsage(c echo.Context) error {
	since, err := sinceParam(c)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, h.recorder.GlobalStats(since))
}

func sinceParam(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("since")
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, core.Errorf(core.CodeInvalidRequest, "invalid since %q", raw)
	}
	return time.Now().Add(-d), nil
}

// handleError converts gateway errors to the client envelope.
func handleError(c echo.Context, err error) error {
	var ge *core.Error
	if errors.As(err, &ge) {
		return c.JSON(ge.HTTPStatus(), ge.ToEnvelope())
	}
	return c.JSON(http.StatusInternalServerError, core.Envelope{
		Success: false,
		Code:    core.CodeInternal,
		Message: "an unexpected error occurred",
	})
}
