package util

import (
	"net/http"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

// StatusClientClosedRequest is the nginx convention for a caller that went away.
const StatusClientClosedRequest = 499

// StatusFor maps a pipeline error code to its HTTP status.
func StatusFor(code pipeline.Code) int {
	switch code {
	case pipeline.CodeAnchorNotFound:
		return http.StatusNotFound
	case pipeline.CodeInvalidRequest:
		return http.StatusBadRequest
	case pipeline.CodeUpstreamTimeout, pipeline.CodeTimeout:
		return http.StatusGatewayTimeout
	case pipeline.CodeAnswerProductionFailed:
		return http.StatusBadGateway
	case pipeline.CodeCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as the typed error envelope.
func WriteError(c echo.Context, err error) error {
	perr, ok := pipeline.AsError(err)
	if !ok {
		logger.Error("Unexpected pipeline error", "err", err)
		perr = &pipeline.Error{Code: pipeline.CodeInternal, Message: "internal error", Err: err}
	}
	if perr.Code == pipeline.CodeCanceled {
		return c.NoContent(StatusClientClosedRequest)
	}
	return c.JSON(StatusFor(perr.Code), perr.Envelope())
}

// InvalidRequest renders a request validation failure as the typed error envelope.
func InvalidRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, pipeline.ErrorEnvelope{Error: pipeline.ErrorBody{
		Code:    pipeline.CodeInvalidRequest,
		Message: message,
	}})
}
