package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/whygraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

type auditParams struct {
	RequestID string `param:"request_id" validate:"required,max=64"`
	Artifact  string `param:"artifact"`
}

func bindAuditParams(c echo.Context) (*auditParams, audit.ArtifactStore, error) {
	params := new(auditParams)
	if err := c.Bind(params); err != nil {
		return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return nil, nil, c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	store := c.(*middleware.AppContext).App.Artifacts
	if store == nil {
		return nil, nil, c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Audit trail is disabled"})
	}
	return params, store, nil
}

// GetAuditArtifactHandler returns one recorded artifact verbatim.
func GetAuditArtifactHandler(c echo.Context) error {
	params, store, err := bindAuditParams(c)
	if params == nil {
		return err
	}
	artifact, err := audit.ParseArtifact(params.Artifact)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	data, err := store.Get(c.Request().Context(), audit.Key(params.RequestID, artifact))
	if err != nil {
		if errors.Is(err, audit.ErrArtifactNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Artifact not found"})
		}
		logger.Error("Failed to read artifact", "request_id", params.RequestID, "artifact", artifact, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSONBlob(http.StatusOK, data)
}

// ReplayHandler re-checks the recorded fingerprint and citations of a request.
func ReplayHandler(c echo.Context) error {
	params, store, err := bindAuditParams(c)
	if params == nil {
		return err
	}

	report, err := audit.Verify(c.Request().Context(), store, params.RequestID)
	if err != nil {
		if errors.Is(err, audit.ErrArtifactNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Audit trail not found"})
		}
		logger.Error("Failed to replay request", "request_id", params.RequestID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	status := http.StatusOK
	if !report.OK() {
		status = http.StatusConflict
	}
	return c.JSON(status, report)
}
