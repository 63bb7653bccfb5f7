// Package sis talks to the Student Information System grade endpoint.
package sis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/logger"
	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

// Connector posts one grade request and returns the decoded reply. A failed
// request is a transport error; a reply that is not a decodable 200 is a
// protocol error.
type Connector interface {
	SendGrades(ctx context.Context, req *model.GradeRequest) (*model.GradeResponse, error)
}

type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		url:      cfg.SISGradesURL(),
		username: cfg.SIS.Username,
		password: cfg.SIS.Password,
		httpClient: &http.Client{
			Timeout: cfg.SIS.Timeout,
		},
		log: logger.Component("sis"),
	}
}

func (c *Client) SendGrades(ctx context.Context, gradeReq *model.GradeRequest) (*model.GradeResponse, error) {
	jsonData, err := json.Marshal(gradeReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.username, c.password)

	c.log.Debug().
		Str("modified_by", gradeReq.ModifiedBy).
		Int("batch_size", len(gradeReq.StudentGrades)).
		Msg("Sending grades to SIS")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(errors.NewRetryableError(err, "HTTP request failed"), "There was an error connecting to SIS.")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError(err, "failed to read SIS response")
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status_code", resp.StatusCode).Msg("SIS returned non-200 status")
		return nil, errors.NewProtocolError(
			fmt.Errorf("%w: HTTP %d", errors.ErrExternalAPIError, resp.StatusCode),
			"SIS returned an unexpected status.")
	}

	var gradeResp model.GradeResponse
	if err := json.Unmarshal(body, &gradeResp); err != nil {
		return nil, errors.NewProtocolError(fmt.Errorf("failed to decode response: %w", err), "SIS response could not be decoded.")
	}

	c.log.Debug().
		Bool("has_messages", gradeResp.HasMessages()).
		Bool("connectivity_failure", gradeResp.ConnectivityFailure()).
		Msg("SIS response received")

	return &gradeResp, nil
}
