package utils

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the JSON body of every error reply.
// Kind, LineID and Path identify the clip that stopped a lesson build.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details string      `json:"details,omitempty"`
	Code    int         `json:"code,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	LineID  int64       `json:"line_id,omitempty"`
	Path    string      `json:"path,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SendError replies with message and status httpCode
func SendError(c *fiber.Ctx, httpCode int, message string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error: message,
		Code:  httpCode,
	})
}

// SendErrorResponse sends an error response with details
func SendErrorResponse(c *fiber.Ctx, httpCode int, message string, details string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error:   message,
		Details: details,
		Code:    httpCode,
	})
}

// SendJSONError sends a prepared error body with its status code
func SendJSONError(c *fiber.Ctx, resp ErrorResponse) error {
	if resp.Code == 0 {
		resp.Code = http.StatusInternalServerError
	}
	return c.Status(resp.Code).JSON(resp)
}

// SendValidationError replies 400 naming the offending field
func SendValidationError(c *fiber.Ctx, field string, message string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
		Error:   "Validation failed",
		Details: field + ": " + message,
		Code:    http.StatusBadRequest,
	})
}

// SendNotFoundError replies 404 for the named resource
func SendNotFoundError(c *fiber.Ctx, resource string) error {
	return c.Status(http.StatusNotFound).JSON(ErrorResponse{
		Error:   "Resource not found",
		Details: resource + " does not exist",
		Code:    http.StatusNotFound,
	})
}

// SendUnauthorizedError replies 401
func SendUnauthorizedError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "Unauthorized",
		Details: message,
		Code:    http.StatusUnauthorized,
	})
}

// SendConflictError sends a conflict error response
func SendConflictError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusConflict).JSON(ErrorResponse{
		Error:   "Conflict",
		Details: message,
		Code:    http.StatusConflict,
	})
}

// SendInternalServerError replies 500. message goes into details, never a raw error.
func SendInternalServerError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "Internal server error",
		Details: message,
		Code:    http.StatusInternalServerError,
	})
}

// ErrorHandler is the fiber app error handler; it renders every error as ErrorResponse
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	return c.Status(code).JSON(ErrorResponse{Error: message, Code: code})
}
