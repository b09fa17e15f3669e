package stats

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carads/cmd/internal/auth"
	"carads/cmd/internal/auth/authtest"
)

func TestHandler(t *testing.T) {
	t.Parallel()

	signer, verifier := authtest.NewPair(t)
	tr, _, p := newTestTracker(t, time.Now())

	mux := http.NewServeMux()
	NewHandler(tr, verifier, discardLogger()).Register(mux)

	do := func(method, path, bearer, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		if bearer != "" {
			r.Header.Set("Authorization", "Bearer "+bearer)
		}
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		return w
	}

	admin := signer.Sign(auth.Identity{UserID: "svc", Role: auth.RoleAdmin}, time.Now())
	user := signer.Sign(auth.Identity{UserID: "u1"}, time.Now())

	cases := []struct {
		name       string
		method     string
		path       string
		bearer     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"today empty", http.MethodGet, "/api/stats/today-views", "", "", http.StatusOK, `{"count":0}`},
		{"today wrong method", http.MethodPost, "/api/stats/today-views", "", "", http.StatusMethodNotAllowed, ""},
		{"record no bearer", http.MethodPost, "/api/stats/views", "", `{"ad_id":1}`, http.StatusUnauthorized, ""},
		{"record user bearer", http.MethodPost, "/api/stats/views", user, `{"ad_id":1}`, http.StatusForbidden, ""},
		{"record bad json", http.MethodPost, "/api/stats/views", admin, `{"ad_id":`, http.StatusBadRequest, ""},
		{"record unknown field", http.MethodPost, "/api/stats/views", admin, `{"ad_id":1,"x":1}`, http.StatusBadRequest, ""},
		{"record invalid id", http.MethodPost, "/api/stats/views", admin, `{"ad_id":0}`, http.StatusBadRequest, ""},
		{"record ok", http.MethodPost, "/api/stats/views", admin, `{"ad_id":5,"owner_user_id":"u1","view_count":3}`, http.StatusOK, `{"count":1}`},
		{"today after", http.MethodGet, "/api/stats/today-views", "", "", http.StatusOK, `{"count":1}`},
	}
	for _, tc := range cases {
		w := do(tc.method, tc.path, tc.bearer, tc.body)
		if w.Code != tc.wantStatus {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, w.Code, tc.wantStatus, w.Body.String())
		}
		if tc.wantBody != "" && strings.TrimSpace(w.Body.String()) != tc.wantBody {
			t.Fatalf("%s: body=%s want=%s", tc.name, w.Body.String(), tc.wantBody)
		}
	}

	if n := len(p.snapshot()); n != 2 {
		t.Fatalf("pushes=%d want=2", n)
	}
}
