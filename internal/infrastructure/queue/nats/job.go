package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/core/ports"
)

// ClassifyJob is the message body on the classify subject. Without
// Marketplace the product is classified for every loaded marketplace.
type ClassifyJob struct {
	JobID             string         `json:"job_id"`
	Marketplace       string         `json:"marketplace,omitempty"`
	Product           map[string]any `json:"product"`
	Provider          string         `json:"provider,omitempty"`
	IncludeConfidence bool           `json:"include_confidence,omitempty"`
	SubmittedAt       *time.Time     `json:"submitted_at,omitempty"`
}

type ClassifyReply struct {
	JobID   string                        `json:"job_id"`
	Results []domain.ClassificationResult `json:"results"`
	Error   string                        `json:"error,omitempty"`
}

func handleJob(ctx context.Context, data []byte, handler ports.ClassifyJobHandler) (ClassifyJob, ClassifyReply, error) {
	var job ClassifyJob
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		err = domain.WrapError(domain.ErrInvalidInput, "decode classify job", err)
		return job, ClassifyReply{Results: []domain.ClassificationResult{}, Error: err.Error()}, err
	}

	reply := ClassifyReply{JobID: job.JobID, Results: []domain.ClassificationResult{}}
	if len(job.Product) == 0 {
		err := domain.WrapError(domain.ErrInvalidInput, "classify job", errors.New("product is required"))
		reply.Error = err.Error()
		return job, reply, err
	}

	results, err := handler(ctx, domain.ClassifyRequest{
		Marketplace:       job.Marketplace,
		Product:           job.Product,
		Provider:          job.Provider,
		IncludeConfidence: job.IncludeConfidence,
	})
	if err != nil {
		reply.Error = err.Error()
		return job, reply, err
	}
	if results != nil {
		reply.Results = results
	}
	return job, reply, nil
}
