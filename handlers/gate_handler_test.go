package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/services/gate"
	"github.com/upb/audit-governance/services/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// allowAllPolicies serves no stored rows, so the default policy applies
type allowAllPolicies struct{}

func (allowAllPolicies) ListForTenant(context.Context, string) ([]*models.LoadSheddingPolicy, error) {
	return nil, nil
}

// allowAllLimiter never throttles
type allowAllLimiter struct{}

func (allowAllLimiter) Consume(_ context.Context, _ string, _ int) ratelimit.Result {
	return ratelimit.Result{Allowed: true, Remaining: 100}
}

// recordingSecurityRepo captures inserted security events
type recordingSecurityRepo struct {
	inserted chan *models.SecurityEvent
}

func newRecordingSecurityRepo() *recordingSecurityRepo {
	return &recordingSecurityRepo{inserted: make(chan *models.SecurityEvent, 4)}
}

func (r *recordingSecurityRepo) Insert(_ context.Context, event *models.SecurityEvent) error {
	r.inserted <- event
	return nil
}

func newGateHandler(security *recordingSecurityRepo) (*GateHandler, *gate.Service) {
	service := gate.NewService(allowAllPolicies{}, allowAllLimiter{}, 100, time.Minute, zap.NewNop())
	return NewGateHandler(service, security, zap.NewNop()), service
}

func authedRequest(method, target string, body interface{}) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	claims := &middleware.Claims{TenantID: "tenant-a", Roles: []string{"security_admin"}}
	claims.Subject = "admin-1"
	return req.WithContext(middleware.WithClaims(req.Context(), claims))
}

func TestHandleEvaluate(t *testing.T) {
	t.Run("accepts an admitted event", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := authedRequest(http.MethodPost, "/v1/gate/evaluate", EvaluateRequest{
			EventType: "step_completed",
			Severity:  "info",
		})
		rec := httptest.NewRecorder()

		handler.HandleEvaluate(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Data gate.Decision `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.True(t, response.Data.Accepted)
	})

	t.Run("rejections still return 200", func(t *testing.T) {
		handler, service := newGateHandler(newRecordingSecurityRepo())
		service.SetEmergencyMode(true)

		req := authedRequest(http.MethodPost, "/v1/gate/evaluate", EvaluateRequest{
			EventType: "step_completed",
		})
		rec := httptest.NewRecorder()

		handler.HandleEvaluate(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var response struct {
			Data gate.Decision `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.False(t, response.Data.Accepted)
	})

	t.Run("missing event_type is a validation error", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := authedRequest(http.MethodPost, "/v1/gate/evaluate", EvaluateRequest{})
		rec := httptest.NewRecorder()

		handler.HandleEvaluate(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown severity is rejected", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := authedRequest(http.MethodPost, "/v1/gate/evaluate", EvaluateRequest{
			EventType: "step_completed",
			Severity:  "catastrophic",
		})
		rec := httptest.NewRecorder()

		handler.HandleEvaluate(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unauthenticated request is unauthorized", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := httptest.NewRequest(http.MethodPost, "/v1/gate/evaluate", bytes.NewReader(nil))
		rec := httptest.NewRecorder()

		handler.HandleEvaluate(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleEmergencyMode(t *testing.T) {
	security := newRecordingSecurityRepo()
	handler, service := newGateHandler(security)

	req := authedRequest(http.MethodPost, "/v1/admin/gate/emergency", EmergencyModeRequest{Enabled: true})
	rec := httptest.NewRecorder()

	handler.HandleEmergencyMode(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, service.IsEmergencyMode())

	select {
	case event := <-security.inserted:
		assert.Equal(t, models.SecurityEventEmergencyToggle, event.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected a security event for the toggle")
	}
}

func TestHandleInvalidateCache(t *testing.T) {
	t.Run("single tenant", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := authedRequest(http.MethodPost, "/v1/admin/gate/invalidate", InvalidateCacheRequest{TenantID: "tenant-a"})
		rec := httptest.NewRecorder()

		handler.HandleInvalidateCache(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("whole cache", func(t *testing.T) {
		handler, _ := newGateHandler(newRecordingSecurityRepo())
		req := authedRequest(http.MethodPost, "/v1/admin/gate/invalidate", InvalidateCacheRequest{})
		rec := httptest.NewRecorder()

		handler.HandleInvalidateCache(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestHandleGateStats(t *testing.T) {
	handler, _ := newGateHandler(newRecordingSecurityRepo())
	req := authedRequest(http.MethodGet, "/v1/admin/gate/stats", nil)
	rec := httptest.NewRecorder()

	handler.HandleGateStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Contains(t, response.Data, "emergency_mode")
	assert.Contains(t, response.Data, "policy_cache")
}
