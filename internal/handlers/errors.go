package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"lessoncast/internal/jobs"
	"lessoncast/internal/lessons"
	"lessoncast/internal/lock"
	"lessoncast/internal/utils"
)

// sendLessonError maps lesson pipeline errors to HTTP responses.
// Anything unrecognized is logged and reported as a 500 with fallback as details.
func sendLessonError(c *fiber.Ctx, logger *zerolog.Logger, err error, fallback string) error {
	var clipErr *lessons.ClipError
	var setErr *lessons.LineSetError

	switch {
	case errors.As(err, &clipErr):
		return utils.SendJSONError(c, utils.ErrorResponse{
			Error:  clipErr.Error(),
			Code:   http.StatusUnprocessableEntity,
			Kind:   string(clipErr.Kind),
			LineID: clipErr.LineID,
			Path:   clipErr.Path,
		})
	case errors.As(err, &setErr):
		return utils.SendJSONError(c, utils.ErrorResponse{
			Error: lessons.ErrInvalidLineSet.Error(),
			Code:  http.StatusUnprocessableEntity,
			Kind:  "invalid_line_set",
			Data: fiber.Map{
				"missing":   nonNil(setErr.Missing),
				"unknown":   nonNil(setErr.Unknown),
				"duplicate": nonNil(setErr.Duplicate),
			},
		})
	case errors.Is(err, lessons.ErrNoContent):
		return utils.SendJSONError(c, utils.ErrorResponse{
			Error: lessons.ErrNoContent.Error(),
			Code:  http.StatusUnprocessableEntity,
			Kind:  "no_content",
		})
	case errors.Is(err, lessons.ErrLessonNotFound):
		return utils.SendNotFoundError(c, "Lesson")
	case errors.Is(err, lessons.ErrLineNotFound):
		return utils.SendNotFoundError(c, "Line")
	case errors.Is(err, lessons.ErrUnsupportedFormat):
		return utils.SendErrorResponse(c, http.StatusUnsupportedMediaType, "Unsupported audio format", err.Error())
	case errors.Is(err, lessons.ErrInvalidInput):
		return utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid input", err.Error())
	case errors.Is(err, lock.ErrLocked):
		return utils.SendConflictError(c, "Lesson is busy with another operation")
	case errors.Is(err, jobs.ErrAlreadyQueued):
		return utils.SendConflictError(c, "A build for this lesson is already queued")
	}

	logger.Error().Err(err).Str("path", c.Path()).Msg(fallback)
	return utils.SendInternalServerError(c, fallback)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
