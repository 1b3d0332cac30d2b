package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/services"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/utils"
)

type PatternHandler struct {
	patternService *services.PatternService
}

func NewPatternHandler(patternService *services.PatternService) *PatternHandler {
	return &PatternHandler{patternService: patternService}
}

func (ph *PatternHandler) Register(app *fiber.App) {
	gr := app.Group(apiPrefix + "/patterns")

	gr.Get("/", ph.ListPatterns)
	gr.Post("/", ph.RecordFalseAlarm)
	gr.Get("/site/:site_id", ph.ListSitePatterns)
	gr.Get("/matches", ph.MatchHistory)
	gr.Post("/match", ph.MatchIncident)
	gr.Post("/cleanup", ph.Cleanup)
	gr.Post("/recalculate-tolerances", ph.RecalculateTolerances)

	gr.Get("/:id", ph.GetPattern)
	gr.Delete("/:id", ph.DeletePattern)
	gr.Post("/:id/confirm-false", ph.ConfirmFalse)
	gr.Post("/:id/report-real-leak", ph.ReportRealLeak)
	gr.Post("/:id/toggle-active", ph.ToggleActive)
	gr.Post("/:id/toggle-auto-suppress", ph.ToggleAutoSuppress)
	gr.Put("/:id/season-tags", ph.UpdateSeasonTags)
	gr.Put("/:id/baseline-usage", ph.UpdateBaselineUsage)
	gr.Put("/:id/tolerance", ph.UpdateTolerance)
}

type MatchRequest struct {
	SiteID   string                 `json:"site_id"`
	Incident models.PatternIncident `json:"incident"`
}

type SeasonTagsRequest struct {
	SeasonTags []string `json:"season_tags"`
}

type BaselineUsageRequest struct {
	TermUsageKL    float64 `json:"term_usage_kL"`
	HolidayUsageKL float64 `json:"holiday_usage_kL"`
}

// ToleranceRequest leaves Tolerance unset to derive it from night-flow history.
type ToleranceRequest struct {
	Tolerance *float64 `json:"tolerance"`
}

func (ph *PatternHandler) ListPatterns(c fiber.Ctx) error {
	list, err := ph.patternService.List(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(list))
}

func (ph *PatternHandler) ListSitePatterns(c fiber.Ctx) error {
	list, err := ph.patternService.ListBySite(c.Context(), c.Params("site_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(list))
}

func (ph *PatternHandler) GetPattern(c fiber.Ctx) error {
	p, err := ph.patternService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(p))
}

func (ph *PatternHandler) RecordFalseAlarm(c fiber.Ctx) error {
	var req patterns.FalseAlarmRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	result, err := ph.patternService.Record(c.Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if result.Action == models.RecordCreated {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(utils.CreateSuccessResponse(result))
}

func (ph *PatternHandler) MatchIncident(c fiber.Ctx) error {
	var req MatchRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	siteID := req.SiteID
	if siteID == "" {
		siteID = req.Incident.SiteID
	}
	matches, err := ph.patternService.Match(c.Context(), req.Incident, siteID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(matches))
}

func (ph *PatternHandler) MatchHistory(c fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(utils.CreateErrorResponse(utils.CodeInvalidRequest, "limit must be an integer"))
		}
		limit = n
	}
	entries, err := ph.patternService.MatchHistory(c.Context(), c.Query("site_id"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(entries))
}

func (ph *PatternHandler) ConfirmFalse(c fiber.Ctx) error {
	return ph.lifecycle(c, ph.patternService.ConfirmFalse)
}

func (ph *PatternHandler) ReportRealLeak(c fiber.Ctx) error {
	return ph.lifecycle(c, ph.patternService.ReportRealLeak)
}

func (ph *PatternHandler) ToggleActive(c fiber.Ctx) error {
	return ph.lifecycle(c, ph.patternService.ToggleActive)
}

func (ph *PatternHandler) ToggleAutoSuppress(c fiber.Ctx) error {
	return ph.lifecycle(c, ph.patternService.ToggleAutoSuppress)
}

func (ph *PatternHandler) lifecycle(c fiber.Ctx, op func(ctx context.Context, id string) (*models.Pattern, error)) error {
	p, err := op(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(p))
}

func (ph *PatternHandler) UpdateSeasonTags(c fiber.Ctx) error {
	var req SeasonTagsRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	p, err := ph.patternService.SetSeasonTags(c.Context(), c.Params("id"), req.SeasonTags)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(p))
}

func (ph *PatternHandler) UpdateBaselineUsage(c fiber.Ctx) error {
	var req BaselineUsageRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	p, err := ph.patternService.SetBaselineUsage(c.Context(), c.Params("id"), req.TermUsageKL, req.HolidayUsageKL)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(p))
}

func (ph *PatternHandler) UpdateTolerance(c fiber.Ctx) error {
	var req ToleranceRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	p, err := ph.patternService.SetTolerance(c.Context(), c.Params("id"), req.Tolerance)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(p))
}

func (ph *PatternHandler) RecalculateTolerances(c fiber.Ctx) error {
	tolerances, err := ph.patternService.RecalculateTolerances(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(tolerances))
}

func (ph *PatternHandler) DeletePattern(c fiber.Ctx) error {
	id := c.Params("id")
	if err := ph.patternService.Delete(c.Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]string{
		"message":    "Pattern deleted",
		"pattern_id": id,
	}))
}

func (ph *PatternHandler) Cleanup(c fiber.Ctx) error {
	st, err := ph.patternService.Cleanup(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(st))
}
