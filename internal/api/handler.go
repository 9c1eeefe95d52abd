package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/store"
	"github.com/chainflow/relay-engine/pkg/model"
)

// ExecutionRunner runs swap commands and serves progress reads.
type ExecutionRunner interface {
	ExecuteSwap(ctx context.Context, cmd *model.ExecuteSwapCommand) error
	Progress(ctx context.Context, executionID string) (*model.ProgressSnapshot, error)
}

// ExecutionRequest is the HTTP body for starting an execution.
type ExecutionRequest struct {
	ExecutionID string       `json:"executionId"`
	Quote       *model.Quote `json:"quote"`
}

// Validate checks the request shape before it reaches the engine.
func (r *ExecutionRequest) Validate() error {
	if r.Quote == nil || len(r.Quote.Steps) == 0 {
		return errors.New("quote with at least one step is required")
	}
	return nil
}

// Handler serves the execution HTTP API.
type Handler struct {
	logger *zap.Logger
	runner ExecutionRunner

	// baseCtx parents async executions so they outlive the HTTP request
	// but still stop on service shutdown.
	baseCtx context.Context
}

// NewHandler creates the execution API handler.
func NewHandler(baseCtx context.Context, logger *zap.Logger, runner ExecutionRunner) *Handler {
	return &Handler{logger: logger, runner: runner, baseCtx: baseCtx}
}

// StartExecution accepts a quote and runs it asynchronously.
func (h *Handler) StartExecution(c *fiber.Ctx) error {
	return h.start(c, false)
}

// StartDelegatedExecution accepts a quote and runs it through the
// sponsored delegated-batch path.
func (h *Handler) StartDelegatedExecution(c *fiber.Ctx) error {
	return h.start(c, true)
}

func (h *Handler) start(c *fiber.Ctx, delegated bool) error {
	var req ExecutionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	cmd := &model.ExecuteSwapCommand{
		ExecutionID: executionID,
		Delegated:   delegated,
		Quote:       req.Quote,
	}

	go func() {
		if err := h.runner.ExecuteSwap(h.baseCtx, cmd); err != nil {
			h.logger.Error("api.execution_failed",
				zap.String("execution_id", executionID),
				zap.Bool("delegated", delegated),
				zap.Error(err))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executionId": executionID,
		"status":      "started",
	})
}

// GetExecution returns the latest progress snapshot for an execution.
func (h *Handler) GetExecution(c *fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "execution id is required"})
	}

	snap, err := h.runner.Progress(c.Context(), executionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && snap == nil) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "execution not found"})
	}
	if err != nil {
		h.logger.Error("api.progress_read_failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read progress"})
	}
	return c.JSON(snap)
}
