package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/whygraph/backend/internal/server/middleware"
	serverutil "github.com/OFFIS-RIT/whygraph/backend/internal/server/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"

	"github.com/labstack/echo/v4"
)

type optionsBody struct {
	Policy           string `json:"policy" validate:"omitempty,oneof=auto off force"`
	EnableEmbeddings *bool  `json:"enable_embeddings"`
	BypassCache      bool   `json:"bypass_cache"`
}

func (o optionsBody) options() pipeline.Options {
	return pipeline.Options{
		Policy:           answer.Policy(o.Policy),
		EnableEmbeddings: o.EnableEmbeddings,
		BypassCache:      o.BypassCache,
	}
}

func answerQuery(c echo.Context, req pipeline.Request) error {
	app := c.(*middleware.AppContext).App
	resp, err := app.Pipeline.Answer(c.Request().Context(), req)
	if err != nil {
		return serverutil.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// AskHandler answers a structured question about a known decision.
func AskHandler(c echo.Context) error {
	type askBody struct {
		Intent   string      `json:"intent" validate:"required,oneof=why_decision who_decided when_decided"`
		AnchorID string      `json:"anchor_id" validate:"required,max=200"`
		Question string      `json:"question" validate:"max=2000"`
		Options  optionsBody `json:"options"`
	}

	data := new(askBody)
	if err := c.Bind(data); err != nil {
		return serverutil.InvalidRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return serverutil.InvalidRequest(c, "Invalid request body: "+err.Error())
	}

	return answerQuery(c, pipeline.Request{
		Intent:   data.Intent,
		AnchorID: data.AnchorID,
		Question: data.Question,
		Options:  data.Options.options(),
	})
}
