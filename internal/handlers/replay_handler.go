package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/services"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/utils"
)

const apiPrefix = "leak/api/v1"

type ReplayHandler struct {
	replayService *services.ReplayService
}

func NewReplayHandler(replayService *services.ReplayService) *ReplayHandler {
	return &ReplayHandler{replayService: replayService}
}

func (rh *ReplayHandler) Register(app *fiber.App) {
	gr := app.Group(apiPrefix)

	gr.Post("/replay", rh.Replay)

	siteGroup := gr.Group("/sites")
	siteGroup.Get("/", rh.ListSites)
	siteGroup.Get("/:site_id/daily", rh.GetDailyStatus)
	siteGroup.Get("/:site_id/incidents", rh.GetIncidents)
	siteGroup.Get("/:site_id/burstbf/:date", rh.DiagnoseBurstBF)
}

// ReplayRequest is the replay payload. UpTo accepts a date or an RFC3339
// timestamp and applies to every site without its own cutoff.
type ReplayRequest struct {
	Sites []services.SiteTask `json:"sites"`
	UpTo  string              `json:"up_to,omitempty"`
}

func parseCutoff(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := models.ParseDay(raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: up_to must be YYYY-MM-DD or RFC3339", services.ErrValidation)
	}
	return &t, nil
}

func (rh *ReplayHandler) Replay(c fiber.Ctx) error {
	var req ReplayRequest
	if err := c.Bind().Body(&req); err != nil {
		return invalidBody(c, err)
	}
	upTo, err := parseCutoff(req.UpTo)
	if err != nil {
		return respondError(c, err)
	}
	for i := range req.Sites {
		if req.Sites[i].UpTo == nil {
			req.Sites[i].UpTo = upTo
		}
	}

	report, err := rh.replayService.Replay(c.Context(), req.Sites)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(report))
}

func (rh *ReplayHandler) ListSites(c fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(rh.replayService.Sites()))
}

func (rh *ReplayHandler) GetDailyStatus(c fiber.Ctx) error {
	daily, err := rh.replayService.DailyStatus(c.Params("site_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(daily))
}

func (rh *ReplayHandler) GetIncidents(c fiber.Ctx) error {
	incidents, err := rh.replayService.Incidents(c.Params("site_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(incidents))
}

func (rh *ReplayHandler) DiagnoseBurstBF(c fiber.Ctx) error {
	day, err := models.ParseDay(c.Params("date"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(utils.CreateErrorResponse(utils.CodeInvalidRequest, "date must be YYYY-MM-DD"))
	}
	diag, err := rh.replayService.DiagnoseBurstBF(c.Params("site_id"), day)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(diag))
}
