package echoapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/masomo-authgate/core"
	logsvc "github.com/trezcool/masomo-authgate/services/logger"
)

const (
	teacherPhone = "+919876543210"
	otherPhone   = "+254712345678"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// outbox records the codes the server "sent".
type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *outbox) deliver(phone, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[phone] = code
}

func (o *outbox) last(phone string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[phone]
}

type testServer struct {
	Server
	clock  *fakeClock
	outbox *outbox
}

func testConfig() *core.Config {
	return &core.Config{
		Env:      "TEST",
		TestMode: true,
		AppName:  "Masomo",
		Auth:     core.AuthConfig{DefaultCountryCode: "91"},
		DevServer: core.DevServerConfig{
			JWTSecret:      "secret",
			TokenTTL:       time.Hour,
			OTPPeriod:      5 * time.Minute,
			ResendInterval: 30 * time.Second,
			Directory: map[string]string{
				"9876543210":      "teacher:Demo Teacher",
				"+254 712 345678": "Jane Parent",
			},
		},
	}
}

func setup(t *testing.T) *testServer {
	t.Helper()
	conf := testConfig()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	box := &outbox{codes: make(map[string]string)}
	srv, err := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf),
		Now:            clock.Now,
		DisableReqLogs: true,
		Deliver:        box.deliver,
	})
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	return &testServer{Server: srv, clock: clock, outbox: box}
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantData interface{}
}

func newAuthRequest(t *testing.T, method, path, token string, data interface{}) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	if data != nil {
		if raw, ok := data.(string); ok {
			body.WriteString(raw)
		} else if err := json.NewEncoder(&body).Encode(data); err != nil {
			t.Fatalf("newAuthRequest() failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func (s *testServer) do(t *testing.T, method, path, token string, data interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newAuthRequest(t, method, path, token, data)
	s.ServeHTTP(rec, req)
	return rec
}

func jsonEqual(t *testing.T, want interface{}, got []byte) bool {
	t.Helper()
	wantData, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("json.Marshal() failed: %v", err)
	}
	var j1, j2 interface{}
	if err := json.Unmarshal(wantData, &j1); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if err := json.Unmarshal(got, &j2); err != nil {
		t.Errorf("response is not JSON: %s", got)
		return false
	}
	return jsonValuesEqual(j1, j2)
}

func jsonValuesEqual(a, b interface{}) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return bytes.Equal(x, y)
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData != nil && !jsonEqual(t, tt.wantData, rec.Body.Bytes()) {
		t.Errorf("failed! data = %v; wantData %+v", rec.Body.String(), tt.wantData)
	}
}
