package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
	"github.com/justice-rest/intelmem/pkg/memory/store"
	"github.com/justice-rest/intelmem/pkg/retrieval/pipeline"
)

// ErrorResponse is the JSON error body returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, memory.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, memory.ErrDependencyTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, memory.ErrDependencyFailure):
		return fiber.StatusBadGateway
	case errors.Is(err, memory.ErrInvariantViolation):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error()})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`

	Tiers []memory.Tier `json:"tiers,omitempty"`
	Kinds []memory.Kind `json:"kinds,omitempty"`
	Tags  []string      `json:"tags,omitempty"`
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.engine.Retrieve(c.Context(), req.Query, req.UserID, store.Filters{
		Tiers: req.Tiers,
		Kinds: req.Kinds,
		Tags:  req.Tags,
	})
	if err != nil {
		return s.fail(c, err)
	}
	if req.Limit > 0 && len(result.Candidates) > req.Limit {
		result.Candidates = result.Candidates[:req.Limit]
	}

	s.recordAccesses(c, result.Candidates)
	return c.JSON(result)
}

// recordAccesses updates access statistics for served results. Best effort:
// a failed stat update never fails the search that produced it.
func (s *Server) recordAccesses(c *fiber.Ctx, candidates []pipeline.Candidate) {
	for _, cand := range candidates {
		if err := s.manager.RecordAccess(c.Context(), cand.Record.ID, s.config.AccessBoost, s.config.MaxImportance); err != nil {
			s.logger.Warn("failed to record access",
				zap.String("id", cand.Record.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	userID := c.Params("user")
	staticLimit := c.QueryInt("static_limit", 5)
	dynamicLimit := c.QueryInt("dynamic_limit", 5)

	profile, err := s.profiles.Load(c.Context(), userID, staticLimit, dynamicLimit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(profile)
}

// CreateRequest is the body of POST /memories.
type CreateRequest struct {
	UserID     string      `json:"user_id"`
	Text       string      `json:"text"`
	Kind       memory.Kind `json:"kind,omitempty"`
	IsStatic   bool        `json:"is_static,omitempty"`
	Importance float64     `json:"importance,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	rec, err := s.manager.Create(c.Context(), lifecycle.CreateInput{
		UserID:     req.UserID,
		Text:       req.Text,
		Kind:       req.Kind,
		IsStatic:   req.IsStatic,
		Importance: req.Importance,
		Tags:       req.Tags,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	rec, err := s.manager.Get(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(rec)
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	if err := s.manager.DeleteByID(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ForgetRequest is the body of POST /memories/:id/forget.
type ForgetRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleForget(c *fiber.Ctx) error {
	var req ForgetRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.manager.Forget(c.Context(), c.Params("id"), req.Reason); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteAll(c *fiber.Ctx) error {
	if err := s.manager.DeleteAll(c.Context(), c.Params("user")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ConsolidateRequest is the body of POST /users/:user/consolidate.
type ConsolidateRequest struct {
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	MaxClusters         int     `json:"max_clusters,omitempty"`
	DryRun              bool    `json:"dry_run,omitempty"`
}

func (s *Server) handleConsolidate(c *fiber.Ctx) error {
	var req ConsolidateRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.manager.Consolidate(c.Context(), c.Params("user"), lifecycle.ConsolidateOptions{
		SimilarityThreshold: req.SimilarityThreshold,
		MaxClusters:         req.MaxClusters,
		DryRun:              req.DryRun,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

// DecayRequest is the body of POST /users/:user/decay.
type DecayRequest struct {
	DailyRate     float64 `json:"daily_rate"`
	MinImportance float64 `json:"min_importance"`
}

func (s *Server) handleDecay(c *fiber.Ctx) error {
	var req DecayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	decayed, err := s.manager.ApplyDecay(c.Context(), c.Params("user"), req.DailyRate, req.MinImportance)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"decayed": decayed})
}

func (s *Server) handleUpdateTiers(c *fiber.Ctx) error {
	moved, err := s.manager.UpdateTiers(c.Context(), c.Params("user"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"moved": moved})
}
