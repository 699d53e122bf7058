// Package client calls the clinical workflow REST API. Every call reads a
// bearer token from the auth collaborator first and fails with
// auth.ErrAuthenticationRequired, without touching the network, when none
// is available.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/models"
	"github.com/moogar0880/problems"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 64 << 10
	jsonContentType = "application/json"
)

// Client is a REST client for the workflow API and its job queue endpoints.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     auth.TokenProvider
	role       auth.Role
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRole sets the account role whose token authenticates calls.
func WithRole(role auth.Role) Option {
	return func(c *Client) {
		c.role = role
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, tokens auth.TokenProvider, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		tokens: tokens,
		role:   auth.RoleDoctor,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "client")

	return c, nil
}

// CheckCredentials fails when no token is available for the client's role.
func (c *Client) CheckCredentials(ctx context.Context) error {
	_, err := c.tokens.Token(ctx, c.role)

	return err
}

// workflowPayload is the body of POST and PUT /workflows: steps travel as stepsData.
type workflowPayload struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	DoctorID     string                 `json:"doctor_id,omitempty"`
	Status       models.WorkflowStatus  `json:"status,omitempty"`
	IsTemplate   bool                   `json:"is_template"`
	TemplateMode models.TemplateMode    `json:"template_mode,omitempty"`
	PatientsIDs  []string               `json:"patients_ids"`
	StepsData    []*models.WorkflowStep `json:"stepsData"`
}

func newWorkflowPayload(workflow *models.Workflow, mode models.TemplateMode) workflowPayload {
	normalized := models.NormalizePatientAssociation(&models.Workflow{
		PatientsIDs: workflow.PatientsIDs,
		PatientIDs:  workflow.PatientIDs,
		PatientID:   workflow.PatientID,
	})

	payload := workflowPayload{
		Name:        workflow.Name,
		Description: workflow.Description,
		DoctorID:    workflow.DoctorID,
		Status:      workflow.Status,
		IsTemplate:  workflow.IsTemplate,
		PatientsIDs: normalized.PatientsIDs,
		StepsData:   models.NormalizeSteps(workflow.Steps),
	}

	if workflow.IsTemplate {
		payload.TemplateMode = mode
	}

	return payload
}

// CreateWorkflow posts a new workflow. The API answers with one workflow, or
// with one per patient when a template is stored per patient.
func (c *Client) CreateWorkflow(
	ctx context.Context,
	workflow *models.Workflow,
	mode models.TemplateMode,
) ([]*models.Workflow, error) {
	var raw json.RawMessage

	err := c.do(ctx, "CreateWorkflow", http.MethodPost, "/workflows", newWorkflowPayload(workflow, mode), &raw)
	if err != nil {
		return nil, err
	}

	return decodeWorkflows(raw)
}

func decodeWorkflows(raw json.RawMessage) ([]*models.Workflow, error) {
	trimmed := bytes.TrimSpace(raw)

	var workflows []*models.Workflow

	if len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &workflows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode workflows: %w", err)
		}
	} else {
		var workflow models.Workflow

		err := json.Unmarshal(trimmed, &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}

		workflows = []*models.Workflow{&workflow}
	}

	for _, workflow := range workflows {
		models.NormalizePatientAssociation(workflow)
	}

	return workflows, nil
}

// UpdateWorkflow replaces a persisted workflow.
func (c *Client) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	var updated models.Workflow

	err := c.do(ctx, "UpdateWorkflow", http.MethodPut, workflowPath(workflow.ID), newWorkflowPayload(workflow, ""), &updated)
	if err != nil {
		return nil, err
	}

	return models.NormalizePatientAssociation(&updated), nil
}

// UpdateStatus changes a workflow's status.
func (c *Client) UpdateStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.Workflow, error) {
	var updated models.Workflow

	body := map[string]models.WorkflowStatus{"status": status}

	err := c.do(ctx, "UpdateStatus", http.MethodPatch, workflowPath(workflowID)+"/status", body, &updated)
	if err != nil {
		return nil, err
	}

	return models.NormalizePatientAssociation(&updated), nil
}

// DeleteWorkflow deletes a workflow record.
func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return c.do(ctx, "DeleteWorkflow", http.MethodDelete, workflowPath(workflowID), nil, nil)
}

// AssignPatients attaches more patients to an existing workflow.
func (c *Client) AssignPatients(ctx context.Context, workflowID string, patientIDs []string) (*models.Workflow, error) {
	var updated models.Workflow

	body := map[string][]string{"patients_ids": patientIDs}

	err := c.do(ctx, "AssignPatients", http.MethodPost, workflowPath(workflowID)+"/assign", body, &updated)
	if err != nil {
		return nil, err
	}

	return models.NormalizePatientAssociation(&updated), nil
}

// FetchWorkflow reads a persisted workflow.
func (c *Client) FetchWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := c.do(ctx, "FetchWorkflow", http.MethodGet, workflowPath(workflowID), nil, &workflow)
	if err != nil {
		return nil, err
	}

	return models.NormalizePatientAssociation(&workflow), nil
}

// SubmitJob queues one job descriptor.
func (c *Client) SubmitJob(ctx context.Context, job *models.JobDescriptor) error {
	return c.do(ctx, "SubmitJob", http.MethodPost, "/workflows/queue/job", job, nil)
}

// CancelWorkflow asks the queue to drop the workflow's pending jobs.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.do(ctx, "CancelWorkflow", http.MethodPost, workflowPath(workflowID)+"/cancel", nil, nil)
}

// RequestSchedule asks the API to reschedule the workflow server side.
func (c *Client) RequestSchedule(ctx context.Context, workflowID string) error {
	return c.do(ctx, "RequestSchedule", http.MethodPost, workflowPath(workflowID)+"/schedule", nil, nil)
}

// StepResult is a lab value reported for a step of one patient's workflow.
type StepResult struct {
	PatientID string  `json:"patient_id"`
	Value     float64 `json:"value"`
}

// RecordStepResult reports a lab value for a step and returns the outcome
// the queue recorded.
func (c *Client) RecordStepResult(
	ctx context.Context,
	workflowID string,
	stepOrder int,
	result StepResult,
) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord

	path := workflowPath(workflowID) + "/steps/" + strconv.Itoa(stepOrder) + "/result"

	err := c.do(ctx, "RecordStepResult", http.MethodPost, path, result, &record)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func workflowPath(workflowID string) string {
	return "/workflows/" + url.PathEscape(workflowID)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.send(ctx, op, method, path, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	return nil
}

// send performs the request and returns the response of a 2xx call. The
// caller closes the body.
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx, c.role)
	if err != nil {
		return nil, err
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}

		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", jsonContentType+", "+problems.ProblemMediaType)

	if body != nil {
		req.Header.Set("Content-Type", jsonContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "API call failed", "op", op, "method", method, "path", path, "error", err)

		return nil, newTransportError(op, method, path, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		remoteErr := newStatusError(op, method, path, resp.StatusCode, readProblem(resp.Body))
		c.logger.WarnContext(ctx, "API call rejected", "op", op, "method", method, "path", path, "status", resp.StatusCode)

		return nil, remoteErr
	}

	return resp, nil
}

func readProblem(body io.Reader) *problems.Problem {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return nil
	}

	var problem problems.Problem

	err = json.Unmarshal(data, &problem)
	if err != nil || (problem.Title == "" && problem.Detail == "" && problem.Status == 0) {
		return nil
	}

	return &problem
}
