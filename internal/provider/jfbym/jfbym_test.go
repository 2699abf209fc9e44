package jfbym

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/provider"
)

func newTestSolver(t *testing.T, h http.HandlerFunc) *Solver {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.OCRConfig{URL: srv.URL, Type: "50103", TimeoutMs: 2000}, config.ProxyConfig{}, nil)
}

func TestRecognizeSuccess(t *testing.T) {
	s := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		var req solveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "QUJD", req.Image)
		assert.Equal(t, "tok", req.Token)
		assert.Equal(t, "50103", req.Type)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10000,"msg":"识别成功","data":{"code":0,"data":"x7k2","time":0.01}}`))
	})

	answer, err := s.Recognize(context.Background(), "tok", "QUJD")
	require.NoError(t, err)
	assert.Equal(t, "x7k2", answer)
}

func TestRecognizeFailureCode(t *testing.T) {
	s := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10002,"msg":"余额不足","data":null}`))
	})

	_, err := s.Recognize(context.Background(), "tok", "QUJD")
	var be *provider.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 10002, be.Status)
	assert.Equal(t, "余额不足", be.Message)
}

func TestRecognizeEmptyAnswer(t *testing.T) {
	s := newTestSolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":10000,"data":{"code":0,"data":"  "}}`))
	})

	_, err := s.Recognize(context.Background(), "tok", "QUJD")
	require.ErrorIs(t, err, provider.ErrMalformedResponse)
}
