package serverutils

import (
	"errors"

	"analytics-console/pkg/console"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	var ve *ValidationError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.Is(err, console.ErrTurnInFlight):
		return fiber.StatusConflict
	case errors.Is(err, console.ErrUnknownMode),
		errors.Is(err, console.ErrEmptyQuery),
		errors.Is(err, console.ErrSelectionDisabled),
		errors.Is(err, console.ErrEmptySelection),
		errors.Is(err, console.ErrNotPinnable):
		return fiber.StatusBadRequest
	case errors.Is(err, console.ErrSourceInactive):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, console.ErrIndexOutOfRange):
		return fiber.StatusNotFound
	case errors.Is(err, console.ErrUpload),
		errors.Is(err, console.ErrConnection),
		errors.Is(err, console.ErrExport),
		errors.Is(err, console.ErrSuggestionFetch),
		errors.Is(err, console.ErrStream):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every returned error in the standard envelope.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := StatusFor(err)
	message := err.Error()
	if code == fiber.StatusInternalServerError {
		message = "Internal server error"
	}
	return ctx.Status(code).JSON(ErrorResponse(code, message))
}

// ErrorHandlerMiddleware converts errors returned further down the chain.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if err := ctx.Next(); err != nil {
			return ErrorHandler(ctx, err)
		}
		return nil
	}
}
