package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/dukex/careflow/pkg/client"
	"github.com/dukex/careflow/pkg/devserver"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/persistence/file"
	"github.com/dukex/careflow/pkg/scheduler"
	"github.com/dukex/careflow/pkg/services"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const followUpDefinition = `
name: Follow-up
doctor_id: doc-1
patient_ids: [p1]
steps:
  - order: 1
    type: reminder
    condition:
      timing: {type: delay, value: 1d}
    action: {type: send_notification, message: Take your medication}
  - order: 2
    type: analysis_test
    condition:
      timing: {type: delay, value: 7d}
      testResult: {type: glucose, operator: ">", value: 180}
    action: {type: medical_test, test_type: glucose, requires_result: true}
`

type cliFixture struct {
	url  string
	jobs *devserver.MemoryJobStore
	dir  string

	// rejectJobs makes the API answer 500 to every job submission.
	rejectJobs atomic.Bool
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	jobs := devserver.NewMemoryJobStore()
	queue := devserver.NewQueue(store, jobs, nil, devserver.NewMetrics(), slog.Default())
	server := devserver.NewServer(store, queue, slog.Default(), devserver.WithTokens("doctor-token"))

	f := &cliFixture{jobs: jobs, dir: t.TempDir()}
	app := adaptor.FiberApp(server.App())

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.rejectJobs.Load() && r.Method == http.MethodPost && r.URL.Path == "/workflows/queue/job" {
			http.Error(w, "queue unavailable", http.StatusInternalServerError)

			return
		}

		app.ServeHTTP(w, r)
	}))
	t.Cleanup(httpServer.Close)

	f.url = httpServer.URL

	return f
}

func (f *cliFixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func (f *cliFixture) run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out

	base := []string{"careflow", "--api-url", f.url, "--doctor-token", "doctor-token", "--log-level", "error"}
	err := command.Run(t.Context(), append(base, args...))

	return out.Bytes(), err
}

func TestValidateCommand(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	out, err := f.run(t, "validate", "--jobs", path)
	require.NoError(t, err)

	var jobs []models.JobDescriptor
	require.NoError(t, json.Unmarshal(out, &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(86_400_000), *jobs[0].Delay)
	assert.Equal(t, "p1", jobs[1].PatientID)

	invalid := f.writeFile(t, "invalid.yaml", "name: x\nsteps:\n  - order: 1\n    type: reminder\n    condition:\n      dependsOn: 3\n      outcome: completed")

	_, err = f.run(t, "validate", invalid)
	require.ErrorIs(t, err, models.ErrValidation)

	_, err = f.run(t, "validate")
	require.ErrorIs(t, err, errUsage)
}

func TestWorkflowLifecycleCommands(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	out, err := f.run(t, "create", path)
	require.NoError(t, err)

	var created []services.Created
	require.NoError(t, json.Unmarshal(out, &created))
	require.Len(t, created, 1)

	id := created[0].Workflow.ID
	require.NotEmpty(t, id)

	pending, err := f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = f.run(t, "assign", id, "p2")
	require.NoError(t, err)

	pending, err = f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	out, err = f.run(t, "result", id, "2", "--patient", "p1", "--value", "240")
	require.NoError(t, err)

	var record models.ExecutionRecord
	require.NoError(t, json.Unmarshal(out, &record))
	assert.Equal(t, models.OutcomeAlertTriggered, record.Outcome)

	out, err = f.run(t, "history", id)
	require.NoError(t, err)

	var history []models.ExecutionRecord
	require.NoError(t, json.Unmarshal(out, &history))
	require.Len(t, history, 1)

	_, err = f.run(t, "step", "move", id, "1", "0")
	require.NoError(t, err)

	out, err = f.run(t, "get", id)
	require.NoError(t, err)

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(out, &workflow))
	assert.Equal(t, models.StepTypeAnalysisTest, workflow.Steps[0].Type)
	assert.Equal(t, 1, workflow.Steps[0].Order)

	_, err = f.run(t, "status", id, "paused")
	require.NoError(t, err)

	pending, err = f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.run(t, "delete", id)
	require.NoError(t, err)

	_, err = f.run(t, "get", id)
	require.Error(t, err)
}

func TestScheduleCommand_Remote(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	out, err := f.run(t, "create", path)
	require.NoError(t, err)

	var created []services.Created
	require.NoError(t, json.Unmarshal(out, &created))

	id := created[0].Workflow.ID

	_, err = f.run(t, "cancel", id)
	require.NoError(t, err)

	pending, err := f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.run(t, "schedule", "--remote", id)
	require.NoError(t, err)

	pending, err = f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCreateCommand_FailedSubmissions(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	f.rejectJobs.Store(true)

	out, err := f.run(t, "create", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRemoteSubmissionFailed)

	var created []map[string]any
	require.NoError(t, json.Unmarshal(out, &created))
	require.Len(t, created, 1)

	submissions, ok := created[0]["submissions"].([]any)
	require.True(t, ok)
	require.Len(t, submissions, 2)

	for _, submission := range submissions {
		entry := submission.(map[string]any)
		assert.Equal(t, "failed", entry["status"])
		assert.Contains(t, entry["reason"], "500")
	}
}

func TestStatusCommand_FailedReschedule(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	out, err := f.run(t, "create", path)
	require.NoError(t, err)

	var created []services.Created
	require.NoError(t, json.Unmarshal(out, &created))

	id := created[0].Workflow.ID

	_, err = f.run(t, "status", id, "paused")
	require.NoError(t, err)

	f.rejectJobs.Store(true)

	_, err = f.run(t, "status", id, "active")
	require.ErrorIs(t, err, client.ErrRemoteSubmissionFailed)
}

func TestScheduleCommand_InactiveWorkflow(t *testing.T) {
	f := newCLIFixture(t)
	path := f.writeFile(t, "workflow.yaml", followUpDefinition)

	out, err := f.run(t, "create", path)
	require.NoError(t, err)

	var created []services.Created
	require.NoError(t, json.Unmarshal(out, &created))

	id := created[0].Workflow.ID

	_, err = f.run(t, "status", id, "paused")
	require.NoError(t, err)

	_, err = f.run(t, "schedule", id)
	require.ErrorIs(t, err, scheduler.ErrWorkflowNotActive)

	pending, err := f.jobs.Pending(t.Context(), id)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProfileFlags(t *testing.T) {
	f := newCLIFixture(t)
	profile := f.writeFile(t, "careflow.yaml", "api_url: "+f.url+"\ncredentials:\n  doctor:\n    token: wrong\n")

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out

	err := command.Run(t.Context(), []string{"careflow", "--config", profile, "--log-level", "error", "get", "missing"})
	require.ErrorIs(t, err, auth.ErrAuthenticationRequired)

	_, err = f.run(t, "--role", "nurse", "get", "missing")
	require.ErrorIs(t, err, errUsage)
}
