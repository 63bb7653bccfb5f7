package sis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sis-gradesync/internal/config"
	"sis-gradesync/internal/model"
	"sis-gradesync/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.SIS.BaseURL = srv.URL
	cfg.SIS.GradesEndpoint = "/api/coursesection/grades"
	cfg.SIS.Username = "svc"
	cfg.SIS.Password = "secret"
	cfg.SIS.Timeout = 2 * time.Second
	return NewClient(cfg)
}

func sampleRequest() *model.GradeRequest {
	grade := "A"
	return &model.GradeRequest{
		ModifiedBy:    "T-9",
		StudentGrades: []model.StudentGrade{{CourseID: "CRS-1", StudentID: "S-1", FinalGrade: &grade}},
	}
}

func TestSendGradesPostsWithBasicAuth(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/coursesection/grades", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "secret", pass)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "T-9", body["ModifiedBy"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success","isConnectivityFailure":false,
			"messages":[{"message":"ok","data":{"studentId":"S-1","status":"success","targetSis":"banner"}}]}`))
	})

	resp, err := client.SendGrades(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.True(t, resp.HasMessages())
	assert.False(t, resp.ConnectivityFailure())
	require.Len(t, *resp.Messages, 1)
	assert.Equal(t, "S-1", (*resp.Messages)[0].Data.StudentID)
	assert.Equal(t, model.SISStatusSuccess, (*resp.Messages)[0].Data.Status)
}

func TestSendGradesFailuresAreClassified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		handler func(w http.ResponseWriter, r *http.Request)
		want    errors.Class
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, want: errors.ClassProtocol},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"denied"}`, want: errors.ClassProtocol},
		{name: "undecodable body", status: http.StatusOK, body: `<html>gateway</html>`, want: errors.ClassProtocol},
		{
			name: "timeout",
			want: errors.ClassTransport,
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(3 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := tt.handler
			if handler == nil {
				handler = func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				}
			}
			client := newTestClient(t, handler)
			client.httpClient.Timeout = 200 * time.Millisecond

			_, err := client.SendGrades(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.ClassOf(err))
			assert.True(t, errors.ClassOf(err).Recoverable())
		})
	}
}

func TestSendGradesMissingMessages(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failure"}`))
	})

	resp, err := client.SendGrades(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, resp.HasMessages())
	assert.Nil(t, resp.IsConnectivityFailure)
}
