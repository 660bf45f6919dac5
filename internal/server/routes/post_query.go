package routes

import (
	serverutil "github.com/OFFIS-RIT/whygraph/backend/internal/server/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a free-text question. The intent is routed from the text unless given.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Text    string      `json:"text" validate:"required,max=2000"`
		Intent  string      `json:"intent" validate:"omitempty,oneof=why_decision who_decided when_decided"`
		Options optionsBody `json:"options"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return serverutil.InvalidRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return serverutil.InvalidRequest(c, "Invalid request body: "+err.Error())
	}

	return answerQuery(c, pipeline.Request{
		Intent:  data.Intent,
		Text:    data.Text,
		Options: data.Options.options(),
	})
}
