package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
)

// ErrInvalidMessage marks a message that can never succeed. It skips the
// retry queue.
var ErrInvalidMessage = errors.New("invalid message")

var validate = validator.New()

// InsertJob asks the worker to ingest one document. Exactly one of Text,
// URL and S3Key is set.
type InsertJob struct {
	JobID string `json:"job_id" validate:"required"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty" validate:"omitempty,url"`
	S3Key string `json:"s3_key,omitempty"`
}

// DeleteJob asks the worker to delete one entity.
type DeleteJob struct {
	JobID  string `json:"job_id" validate:"required"`
	Entity string `json:"entity" validate:"required"`
}

// NewJobID returns a fresh job id.
func NewJobID() (string, error) {
	return gonanoid.New()
}

// Source reports which input the job carries.
func (j InsertJob) Source() (loader.SourceKind, string) {
	switch {
	case j.URL != "":
		return loader.SourceURL, j.URL
	case j.S3Key != "":
		return loader.SourceS3, j.S3Key
	default:
		return "", j.Text
	}
}

func (j InsertJob) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	set := 0
	for _, v := range []string{j.Text, j.URL, j.S3Key} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of text, url and s3_key is required", ErrInvalidMessage)
	}
	return nil
}

func (j DeleteJob) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func decode[T interface{ Validate() error }](body []byte) (T, error) {
	var job T
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := job.Validate(); err != nil {
		return job, err
	}
	return job, nil
}

func DecodeInsertJob(body []byte) (InsertJob, error) { return decode[InsertJob](body) }
func DecodeDeleteJob(body []byte) (DeleteJob, error) { return decode[DeleteJob](body) }
