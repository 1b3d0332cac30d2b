package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/detector"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/services"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/utils"
)

// respondError maps service errors onto the error envelope.
func respondError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, patterns.ErrPatternNotFound),
		errors.Is(err, services.ErrSiteNotReplayed),
		errors.Is(err, detector.ErrNoData):
		return c.Status(http.StatusNotFound).JSON(utils.CreateErrorResponse(utils.CodeNotFound, err.Error()))
	case errors.Is(err, services.ErrInvalidTask),
		errors.Is(err, services.ErrValidation):
		return c.Status(http.StatusBadRequest).JSON(utils.CreateErrorResponse(utils.CodeInvalidRequest, err.Error()))
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(http.StatusInternalServerError).JSON(utils.CreateErrorResponse(utils.CodeProcessingFailed, err.Error()))
	}
}

func invalidBody(c fiber.Ctx, err error) error {
	slog.Error("error parsing request", "error", err)
	return c.Status(http.StatusBadRequest).JSON(utils.CreateErrorResponse(utils.CodeInvalidRequest, "Invalid request body"))
}
