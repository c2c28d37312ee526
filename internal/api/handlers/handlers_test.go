package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployment-orchestrator-go/internal/accountpool"
	"deployment-orchestrator-go/internal/deleter"
	"deployment-orchestrator-go/internal/domain"
	"deployment-orchestrator-go/internal/ledger"
	"deployment-orchestrator-go/internal/provisioner"
)

type fakeWorkflow struct {
	result *provisioner.Result
	err    error
}

func (f *fakeWorkflow) Provision(context.Context, provisioner.Request) (*provisioner.Result, error) {
	return f.result, f.err
}

type fakeDeleter struct {
	outcome *deleter.Outcome
	err     error
}

func (f *fakeDeleter) Delete(context.Context, string) (*deleter.Outcome, error) {
	return f.outcome, f.err
}

func TestProvisionHandler(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    string
		workflowResult *provisioner.Result
		workflowErr    error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid request",
			requestBody:    `{"owner_id":"7","workload_id":"42","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			workflowResult: &provisioner.Result{DeploymentID: "dep-1", RemoteName: "foo-td"},
			expectedStatus: http.StatusCreated,
			expectedBody:   "dep-1",
		},
		{
			name:           "invalid json",
			requestBody:    `{invalid}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing owner",
			requestBody:    `{"workload_id":"42","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "owner_id",
		},
		{
			name:           "missing parameters",
			requestBody:    `{"owner_id":"7","workload_id":"42","requested_name":"foo"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "parameters",
		},
		{
			name:           "pool exhausted",
			requestBody:    `{"owner_id":"7","workload_id":"42","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			workflowErr:    accountpool.ErrNoCapacity,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "name being provisioned elsewhere",
			requestBody:    `{"owner_id":"7","workload_id":"42","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			workflowErr:    provisioner.ErrNameTaken,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "unknown workload",
			requestBody:    `{"owner_id":"7","workload_id":"999","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			workflowErr:    domain.ErrWorkloadNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "remote step failed",
			requestBody:    `{"owner_id":"7","workload_id":"42","requested_name":"foo","parameters":{"TOKEN":"abc"}}`,
			workflowErr:    &provisioner.StepError{Step: "trigger build", DeploymentID: "dep-9"},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   "trigger build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewProvisionHandler(&fakeWorkflow{result: tt.workflowResult, err: tt.workflowErr}, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(tt.requestBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.Handle(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
		})
	}
}

func seedStore(t *testing.T) *ledger.Memory {
	t.Helper()
	store := ledger.NewMemory()
	store.Seed(domain.Deployment{
		ID: "dep-1", OwnerID: "7", WorkloadID: "42", RequestedName: "foo",
		RemoteName: "foo-td", Status: domain.StatusActive, AssignedAccount: "key-a",
	})
	return store
}

func routedRequest(handler http.HandlerFunc, method, path, pattern string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, handler)

	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeploymentsHandlerGet(t *testing.T) {
	handler := NewDeploymentsHandler(seedStore(t), &fakeDeleter{}, nil)

	w := routedRequest(handler.HandleGet, http.MethodGet, "/api/v1/deployments/dep-1", "/api/v1/deployments/{deployment_id}")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "foo-td")

	w = routedRequest(handler.HandleGet, http.MethodGet, "/api/v1/deployments/missing", "/api/v1/deployments/{deployment_id}")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeploymentsHandlerList(t *testing.T) {
	handler := NewDeploymentsHandler(seedStore(t), &fakeDeleter{}, nil)

	w := routedRequest(handler.HandleList, http.MethodGet, "/api/v1/deployments?owner_id=7", "/api/v1/deployments")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dep-1")

	// Unknown owners get an empty list, not an error.
	w = routedRequest(handler.HandleList, http.MethodGet, "/api/v1/deployments?owner_id=99", "/api/v1/deployments")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deployments":[]`)

	w = routedRequest(handler.HandleList, http.MethodGet, "/api/v1/deployments", "/api/v1/deployments")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeploymentsHandlerDelete(t *testing.T) {
	del := &fakeDeleter{outcome: &deleter.Outcome{DeploymentID: "dep-1", RemoteDeleted: true}}
	handler := NewDeploymentsHandler(seedStore(t), del, nil)

	w := routedRequest(handler.HandleDelete, http.MethodDelete, "/api/v1/deployments/dep-1", "/api/v1/deployments/{deployment_id}")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remote_deleted":true`)
}

func TestDeploymentsHandlerDeleteUnknown(t *testing.T) {
	del := &fakeDeleter{err: ledger.ErrNotFound}
	handler := NewDeploymentsHandler(seedStore(t), del, nil)

	w := routedRequest(handler.HandleDelete, http.MethodDelete, "/api/v1/deployments/missing", "/api/v1/deployments/{deployment_id}")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
