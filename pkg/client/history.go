package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
)

// WorkflowHistory opens the workflow's execution history. Records are
// decoded one at a time from the response body as the stream is read.
func (c *Client) WorkflowHistory(ctx context.Context, workflowID string) (scheduler.RecordStream, error) {
	path := workflowPath(workflowID) + "/history"

	resp, err := c.send(ctx, "WorkflowHistory", http.MethodGet, path, url.Values{"order": {"asc"}}, nil)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(resp.Body)

	token, err := decoder.Token()
	if err != nil {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("WorkflowHistory: failed to read response: %w", err)
	}

	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("WorkflowHistory: expected a JSON array, got %v", token)
	}

	return &recordStream{body: resp.Body, decoder: decoder}, nil
}

type recordStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
}

func (s *recordStream) Next() (models.ExecutionRecord, bool, error) {
	if s.done || !s.decoder.More() {
		s.done = true

		return models.ExecutionRecord{}, false, nil
	}

	var record models.ExecutionRecord

	err := s.decoder.Decode(&record)
	if err != nil {
		s.done = true

		return models.ExecutionRecord{}, false, fmt.Errorf("failed to decode execution record: %w", err)
	}

	return record, true, nil
}

func (s *recordStream) Close() error {
	s.done = true

	return s.body.Close()
}
