package handler

import (
	"errors"
	"strconv"
	"strings"

	"jobpulse/internal/delivery/http/middleware"
	"jobpulse/internal/domain/notification"
	"jobpulse/internal/domain/subscriber"
	"jobpulse/internal/pkg/response"
	"jobpulse/internal/scheduler"
	"jobpulse/internal/usecase"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type AdminHandler struct {
	uc usecase.OpsUsecase
}

type forceRunRequest struct {
	Sources []string `json:"sources"`
	Terms   []string `json:"terms"`
}

type verifyLinksRequest struct {
	Pass   string `json:"pass"`
	Source string `json:"source"`
}

type clickRequest struct {
	JobKey string `json:"job_key"`
}

type sourceToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func NewAdminHandler(uc usecase.OpsUsecase) *AdminHandler {
	return &AdminHandler{uc: uc}
}

func (h *AdminHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}

	r.Post("/scrape", h.ForceRun)
	r.Get("/scrape/runs", h.ListScrapeRuns)
	r.Get("/scheduler", h.SchedulerStatus)
	r.Get("/links/health", h.LinkHealth)
	r.Post("/links/verify", h.VerifyLinks)
	r.Post("/subscribers/:id/deliver", h.DeliverNow)
	r.Post("/notifications/:id/click", h.RecordClick)
	r.Get("/sources", h.ListSources)
	r.Patch("/sources/:name", h.SetSourceEnabled)
}

func (h *AdminHandler) ForceRun(c fiber.Ctx) error {
	var req forceRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
		}
	}

	sum, err := h.uc.ForceRun(c.Context(), usecase.ForceRunInput{Sources: req.Sources, Terms: req.Terms})
	if err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, sum)
}

func (h *AdminHandler) ListScrapeRuns(c fiber.Ctx) error {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return middleware.NewAppError(fiber.StatusBadRequest, "Invalid limit", nil, err)
		}
		limit = v
	}

	runs, err := h.uc.ListScrapeRuns(c.Context(), limit)
	if err != nil {
		return mapOpsError(err)
	}
	return response.List(c, runs, limit)
}

func (h *AdminHandler) SchedulerStatus(c fiber.Ctx) error {
	return response.Success(c, fiber.StatusOK, response.MessageOK, h.uc.SchedulerStatus())
}

func (h *AdminHandler) LinkHealth(c fiber.Ctx) error {
	rep, err := h.uc.LinkHealthReport(c.Context(), c.Query("source"))
	if err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, rep)
}

func (h *AdminHandler) VerifyLinks(c fiber.Ctx) error {
	var req verifyLinksRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
		}
	}

	sum, err := h.uc.VerifyLinks(c.Context(), usecase.VerifyInput{Pass: req.Pass, Source: req.Source})
	if err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, sum)
}

func (h *AdminHandler) DeliverNow(c fiber.Ctx) error {
	d, err := h.uc.DeliverNow(c.Context(), c.Params("id"))
	if err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, d)
}

func (h *AdminHandler) RecordClick(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Invalid notification id", nil, err)
	}
	var req clickRequest
	if err := c.Bind().Body(&req); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}

	if err := h.uc.RecordClick(c.Context(), id, req.JobKey); err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, nil)
}

func (h *AdminHandler) ListSources(c fiber.Ctx) error {
	sources, err := h.uc.ListSources(c.Context())
	if err != nil {
		return mapOpsError(err)
	}
	return response.List(c, sources, 0)
}

func (h *AdminHandler) SetSourceEnabled(c fiber.Ctx) error {
	var req sourceToggleRequest
	if err := c.Bind().Body(&req); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}
	if req.Enabled == nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "enabled is required", nil, nil)
	}

	if err := h.uc.SetSourceEnabled(c.Context(), c.Params("name"), *req.Enabled); err != nil {
		return mapOpsError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, nil)
}

func mapOpsError(err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput), errors.Is(err, usecase.ErrUnknownPass):
		return middleware.NewAppError(fiber.StatusBadRequest, err.Error(), nil, err)
	case errors.Is(err, usecase.ErrNotFound),
		errors.Is(err, subscriber.ErrNotFound),
		errors.Is(err, notification.ErrRecordNotFound):
		return middleware.NewAppError(fiber.StatusNotFound, "Not found", nil, err)
	case errors.Is(err, scheduler.ErrInactiveSubscriber):
		return middleware.NewAppError(fiber.StatusConflict, "Subscriber is inactive", nil, err)
	default:
		return middleware.NewAppError(fiber.StatusInternalServerError, "", nil, err)
	}
}
