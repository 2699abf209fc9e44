package msec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezweb_signin/internal/config"
	"ezweb_signin/internal/logbus"
	"ezweb_signin/internal/model"
	"ezweb_signin/internal/provider"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	return newRetryingProvider(t, 0, h)
}

func newRetryingProvider(t *testing.T, retries int, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.ProviderConfig{
		BaseURL:   srv.URL,
		TimeoutMs: 2000,
		UserAgent: "test-agent",
		Origin:    srv.URL,
		Retry:     config.ProviderRetryCfg{Count: retries, WaitMs: 1, MaxWaitMs: 5},
	}, config.ProxyConfig{}, config.LimitsConfig{}, logbus.New(50))
}

func writeEnvelope(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchCaptcha(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, captchaPath, r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		writeEnvelope(w, map[string]any{
			"status": 200,
			"data":   map[string]any{"id": "c-1", "captcha": "data:image/png;base64,QUJD"},
		})
	})

	ch, err := p.FetchCaptcha(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CaptchaChallenge{ID: "c-1", Image: "QUJD"}, ch)
}

func TestFetchCaptchaMalformedDataURI(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"status": 200,
			"data":   map[string]any{"id": "c-1", "captcha": "QUJD"},
		})
	})

	_, err := p.FetchCaptcha(context.Background())
	require.ErrorIs(t, err, provider.ErrMalformedResponse)
}

func TestFetchCaptchaBadJSONIsTransportError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := p.FetchCaptcha(context.Background())
	require.Error(t, err)
	var be *provider.BusinessError
	assert.False(t, errors.As(err, &be))
}

func TestFetchCaptchaHTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.FetchCaptcha(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogin(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body loginReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.CaptchaAnswer != "abcd" {
			writeEnvelope(w, map[string]any{"status": 400, "message": "验证码错误"})
			return
		}
		assert.Equal(t, "alice", body.Username)
		assert.Equal(t, "pw", body.Password)
		assert.Equal(t, "c-1", body.CaptchaID)
		writeEnvelope(w, map[string]any{"status": 200, "data": map[string]any{"token": "tok"}})
	})
	acc := model.Account{Username: "alice", Password: "pw"}

	token, err := p.Login(context.Background(), acc, "c-1", "abcd")
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	_, err = p.Login(context.Background(), acc, "c-1", "zzzz")
	var be *provider.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 400, be.Status)
	assert.Equal(t, "验证码错误", be.Message)
}

func TestCheckInOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		reply  map[string]any
		status provider.CheckInStatus
		isErr  bool
	}{
		{
			name:   "success",
			reply:  map[string]any{"status": 200, "message": "ok"},
			status: provider.CheckInDone,
		},
		{
			name:   "already",
			reply:  map[string]any{"status": 400, "message": "签到失败", "data": "今天已经签到过了"},
			status: provider.CheckInAlreadyDone,
		},
		{
			name:  "other failure",
			reply: map[string]any{"status": 400, "message": "活动已结束"},
			isErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, checkInPath, r.URL.Path)
				assert.Equal(t, "tok", r.Header.Get("Authorization"))
				writeEnvelope(w, tc.reply)
			})
			res, err := p.CheckIn(context.Background(), "tok")
			if tc.isErr {
				var be *provider.BusinessError
				require.ErrorAs(t, err, &be)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.Status)
		})
	}
}

func TestCheckInEnvelopeOnHTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 400, "message": "签到失败", "data": "今天已经签到过了"})
	})

	res, err := p.CheckIn(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, provider.CheckInAlreadyDone, res.Status)
	assert.Equal(t, "今天已经签到过了", res.Data)
}

func TestQueryPoints(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pointsPath, r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		writeEnvelope(w, map[string]any{"status": 200, "data": map[string]any{"accrued": 120, "total": 95}})
	})

	pts, err := p.QueryPoints(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "120", pts.Accrued.String())
	assert.Equal(t, "95", pts.Total.String())
}

func TestLoginIsNeverResent(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	p := newRetryingProvider(t, 2, func(w http.ResponseWriter, r *http.Request) {
		var body loginReq
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		ids = append(ids, body.CaptchaID)
		first := len(ids) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, map[string]any{"status": 200, "data": map[string]any{"token": "t"}})
	})

	_, err := p.Login(context.Background(), model.Account{Username: "u", Password: "p"}, "cap-1", "abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"cap-1"}, ids)
}

func TestFetchCaptchaIsNeverResent(t *testing.T) {
	var calls atomic.Int32
	p := newRetryingProvider(t, 2, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.FetchCaptcha(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestQueryPointsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newRetryingProvider(t, 1, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, map[string]any{"status": 200, "data": map[string]any{"accrued": 7, "total": 3}})
	})

	pts, err := p.QueryPoints(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "7", pts.Accrued.String())
	assert.EqualValues(t, 2, calls.Load())
}

func TestQueryPointsMissingData(t *testing.T) {
	cases := map[string]any{
		"null data":     nil,
		"missing total": map[string]any{"accrued": 10},
		"empty object":  map[string]any{},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, map[string]any{"status": 200, "data": data})
			})
			_, err := p.QueryPoints(context.Background(), "tok")
			require.ErrorIs(t, err, provider.ErrMalformedResponse)
		})
	}
}

func TestDataText(t *testing.T) {
	assert.Equal(t, "", dataText(nil))
	assert.Equal(t, "", dataText(json.RawMessage("null")))
	assert.Equal(t, "hi", dataText(json.RawMessage(`"hi"`)))
	assert.Equal(t, `{"a":1}`, dataText(json.RawMessage(`{"a":1}`)))
}
