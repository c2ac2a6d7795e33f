package assist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutEndpoint(t *testing.T) {
	c := New("", "key")
	assert.False(t, c.Enabled())

	_, err := c.Suggest(context.Background(), "Digital Wallet MVP", "FinTech Corp", "payments app")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSuggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Digital Wallet MVP", in["projectName"])
		assert.Equal(t, "FinTech Corp", in["clientName"])

		json.NewEncoder(w).Encode(Suggestion{
			Architecture:      "React Native + Go API + Postgres",
			EstimatedBudget:   45000,
			EstimatedTimeline: "12 weeks",
			Reasoning:         "Payment flows need a typed backend.",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test")
	require.True(t, c.Enabled())

	got, err := c.Suggest(context.Background(), "Digital Wallet MVP", "FinTech Corp", "payments app")
	require.NoError(t, err)
	assert.Equal(t, "React Native + Go API + Postgres", got.Architecture)
	assert.Equal(t, 45000.0, got.EstimatedBudget)
	assert.Equal(t, "12 weeks", got.EstimatedTimeline)
}

func TestSuggestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Suggest(context.Background(), "p", "c", "d")
	require.ErrorIs(t, err, ErrUnavailable)
}
