package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darasa-app/darasa/internal/common"
	"github.com/darasa-app/darasa/internal/grading"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/login", r.URL.Path)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))

		if creds["password"] == "hunter2" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"token": "tok-123"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "invalid credentials"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil, 0, 0)

	token, err := c.Login(context.Background(), "asha", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	_, err = c.Login(context.Background(), "asha", "wrong")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestSubmitResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/reports/add-report", r.URL.Path)

		switch r.Header.Get("Authorization") {
		case "Bearer good":
			var res grading.Result
			require.NoError(t, json.NewDecoder(r.Body).Decode(&res))
			require.Equal(t, "quiz-1", res.QuizID)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"_id": "report-9"},
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil, 0, 0)
	res := &grading.Result{QuizID: "quiz-1", UserID: "u1", Verdict: grading.VerdictPass}

	id, err := c.SubmitResult(context.Background(), "good", res)
	require.NoError(t, err)
	assert.Equal(t, "report-9", id)

	_, err = c.SubmitResult(context.Background(), "bad", res)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestTokenExpired(t *testing.T) {
	assert.True(t, TokenExpired(""))
	assert.True(t, TokenExpired("not-a-jwt"))
	assert.True(t, TokenExpired(signedToken(t, time.Now().Add(-time.Hour))))
	assert.True(t, TokenExpired(signedToken(t, time.Now().Add(5*time.Second))), "leeway counts as expired")
	assert.False(t, TokenExpired(signedToken(t, time.Now().Add(time.Hour))))
}
