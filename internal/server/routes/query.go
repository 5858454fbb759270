package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/medrag/internal/server/middleware"
	"github.com/OFFIS-RIT/medrag/pkg/common"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// QueryHandler answers a question against the knowledge graph. With
// only_need_context or only_need_prompt the response carries the context
// or the system prompt instead of an answer.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Question        string            `json:"question" validate:"required"`
		Mode            string            `json:"mode"`
		TopK            int               `json:"top_k" validate:"gte=0"`
		ResponseType    string            `json:"response_type"`
		OnlyNeedContext bool              `json:"only_need_context"`
		OnlyNeedPrompt  bool              `json:"only_need_prompt"`
		History         []common.ChatTurn `json:"history" validate:"dive"`
	}

	type queryResponse struct {
		Mode     string `json:"mode"`
		Response string `json:"response"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}

	mode, err := common.ParseQueryMode(data.Mode)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid mode", Error: err.Error()})
	}

	app := middleware.GetApp(c)
	answer, err := app.Engine.Query(c.Request().Context(), data.Question, common.QueryParam{
		Mode:            mode,
		TopK:            data.TopK,
		ResponseType:    data.ResponseType,
		OnlyNeedContext: data.OnlyNeedContext,
		OnlyNeedPrompt:  data.OnlyNeedPrompt,
		History:         data.History,
	})
	if err != nil {
		if errors.Is(err, rag.ErrInvalidMode) {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid mode", Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Query failed", Error: err.Error()})
	}

	return c.JSON(http.StatusOK, queryResponse{Mode: string(mode), Response: answer})
}
