package actionhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/pkg/models"
)

func TestPublishPostsAction(t *testing.T) {
	var got models.ActionRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	require.NoError(t, err)
	defer w.Close()

	req := &models.ActionRequest{
		ID:             "act-1",
		Kind:           models.ActionAdaptHoneypots,
		Priority:       1,
		AdaptHoneypots: &models.AdaptHoneypots{Types: []models.HoneypotType{models.HoneypotWeb}},
	}
	require.NoError(t, w.Publish(context.Background(), req))

	assert.Equal(t, "act-1", got.ID)
	assert.Equal(t, []models.HoneypotType{models.HoneypotWeb}, got.AdaptHoneypots.Types)
	assert.Equal(t, "adapt_honeypots", headers.Get("X-Action-Kind"))
	assert.Equal(t, "act-1", headers.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer t", headers.Get("Authorization"))
}

func TestPublishRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL})
	require.NoError(t, err)
	err = w.Publish(context.Background(), &models.ActionRequest{ID: "x"})
	assert.ErrorContains(t, err, "503")
}

func TestNewWriterRequiresURL(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}
