package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("stream stopped") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "audio", Check: ok}, {Name: "pipeline", Check: ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"audio": "ok", "pipeline": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "audio", Check: fail}, {Name: "pipeline", Check: ok}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"audio": "fail: stream stopped", "pipeline": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %q = %q, want %q", name, body.Checks[name], want)
				}
			}
			if tc.wantStatus != http.StatusOK && body.Status != "fail" {
				t.Errorf("status field = %q, want fail", body.Status)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCondition(t *testing.T) {
	t.Parallel()
	var c Condition
	check := c.Checker("pipeline")

	if err := check.Check(context.Background()); err == nil || err.Error() != "not started" {
		t.Errorf("zero value = %v, want not started", err)
	}
	c.Ready()
	if err := check.Check(context.Background()); err != nil {
		t.Errorf("after Ready = %v", err)
	}
	c.NotReady("session closed")
	if err := check.Check(context.Background()); err == nil || err.Error() != "session closed" {
		t.Errorf("after NotReady = %v", err)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	var audio Condition
	audio.Ready()
	mux := http.NewServeMux()
	New(audio.Checker("audio")).Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
