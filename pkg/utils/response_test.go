package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"orgtask-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.NotFound("task", "t1"), http.StatusNotFound},
		{models.Forbidden("task", "no"), http.StatusForbidden},
		{models.Conflict("user", "org_id", nil, "taken"), http.StatusConflict},
		{models.Validation("status", "bad"), http.StatusBadRequest},
		{models.StoreFailure("get", true, errors.New("reset")), http.StatusServiceUnavailable},
		{models.StoreFailure("get", false, errors.New("disk")), http.StatusInternalServerError},
		{models.PartialCascade("remove member", "release user org", []string{"a"}, errors.New("x")), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", models.NotFound("user", "u")), http.StatusNotFound},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusForError(tc.err), tc.err.Error())
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, models.Conflict("task", "user_ids", []string{"u2"}, "users are not members of the organization"))

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONFLICT", resp.Error.Code)
	assert.Equal(t, "user_ids", resp.Error.Field)
	assert.Equal(t, []string{"u2"}, resp.Error.IDs)
}

func TestWriteAppError_HidesStoreDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, models.StoreFailure("get user", true, errors.New("dial tcp 10.0.0.1:5432: refused")))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "STORE_ERROR", resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func TestWriteAppError_PartialCascadeListsCompletedSteps(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAppError(rec, models.PartialCascade("remove member", "release user org",
		[]string{"remove organization member"}, errors.New("boom")))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "PARTIAL_CASCADE", resp.Error.Code)
	assert.Equal(t, []string{"remove organization member"}, resp.Error.Completed)
}

func TestWriteSuccessResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCreatedResponse(rec, map[string]string{"id": "x"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}
