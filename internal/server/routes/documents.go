package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/medrag/internal/queue"
	"github.com/OFFIS-RIT/medrag/internal/server/middleware"
	"github.com/OFFIS-RIT/medrag/pkg/loader"
	"github.com/OFFIS-RIT/medrag/pkg/logger"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

type documentBody struct {
	Text  string `json:"text"`
	URL   string `json:"url" validate:"omitempty,url"`
	S3Key string `json:"s3_key"`
}

func (b documentBody) sources() int {
	n := 0
	for _, v := range []string{b.Text, b.URL, b.S3Key} {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

func bindDocument(c echo.Context) (*documentBody, error) {
	data := new(documentBody)
	if err := c.Bind(data); err != nil {
		return nil, err
	}
	if err := c.Validate(data); err != nil {
		return nil, err
	}
	if data.sources() != 1 {
		return nil, errors.New("exactly one of text, url and s3_key is required")
	}
	return data, nil
}

// InsertDocumentHandler ingests one document synchronously and returns the
// insert report.
func InsertDocumentHandler(c echo.Context) error {
	data, err := bindDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}

	ctx := c.Request().Context()
	app := middleware.GetApp(c)

	text := data.Text
	switch {
	case data.URL != "":
		text, err = app.Loaders.Load(ctx, loader.SourceURL, data.URL)
	case data.S3Key != "":
		text, err = app.Loaders.Load(ctx, loader.SourceS3, data.S3Key)
	}
	if err != nil {
		if errors.Is(err, loader.ErrNoLoader) {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "Source not supported", Error: err.Error()})
		}
		return c.JSON(http.StatusBadGateway, errorResponse{Message: "Failed to load document", Error: err.Error()})
	}

	report, err := app.Engine.Insert(ctx, text)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyDocument) {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "Document is empty"})
		}
		logger.Error("[Server] Insert failed", "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Insert failed", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

// InsertDocumentAsyncHandler publishes an insert job. Raw text is uploaded
// to object storage first when a bucket is configured, so the message only
// carries the key.
func InsertDocumentAsyncHandler(c echo.Context) error {
	type asyncResponse struct {
		Message string `json:"message"`
		JobID   string `json:"job_id"`
	}

	app := middleware.GetApp(c)
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Message: "Queue is not configured"})
	}

	data, err := bindDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body", Error: err.Error()})
	}

	jobID, err := queue.NewJobID()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Failed to create job", Error: err.Error()})
	}
	ctx := c.Request().Context()

	job := queue.InsertJob{JobID: jobID, Text: data.Text, URL: data.URL, S3Key: data.S3Key}
	if job.Text != "" && app.Storage != nil {
		key, err := app.Storage.PutFile(ctx, "uploads", jobID+".txt", strings.NewReader(job.Text))
		if err != nil {
			return c.JSON(http.StatusBadGateway, errorResponse{Message: "Failed to store document", Error: err.Error()})
		}
		job.Text, job.S3Key = "", key
	}

	msg, err := json.Marshal(job)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Failed to encode job", Error: err.Error()})
	}
	if err := queue.PublishFIFO(ctx, app.Queue, queue.InsertQueue, msg); err != nil {
		logger.Error("[Server] Publish failed", "job_id", jobID, "err", err)
		return c.JSON(http.StatusBadGateway, errorResponse{Message: "Failed to queue job", Error: err.Error()})
	}

	return c.JSON(http.StatusAccepted, asyncResponse{Message: "Document queued", JobID: jobID})
}
