package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shuv1337/shuvbot/internal/store"
)

type fakeStatus map[string]interface{}

func (f fakeStatus) GetStatus() map[string]interface{} { return f }

type fakeCounter int

func (f fakeCounter) Len() int { return int(f) }

type fakePairing struct {
	store.PairingStore
	pending map[string]store.PairingRequest
}

func (f *fakePairing) ListPairingRequests(context.Context, string) ([]store.PairingRequest, error) {
	var out []store.PairingRequest
	for _, r := range f.pending {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakePairing) ApprovePairing(_ context.Context, _ string, code string) (store.PairingRequest, error) {
	r, ok := f.pending[store.NormalizeCode(code)]
	if !ok {
		return store.PairingRequest{}, store.ErrNotFound
	}
	delete(f.pending, r.Code)
	return r, nil
}

func newTestServer(token string) (*Server, *fakePairing) {
	fp := &fakePairing{pending: map[string]store.PairingRequest{
		"ABCD2345": {Code: "ABCD2345", AccountID: "default", SenderID: "+15550001111"},
	}}
	status := fakeStatus{"default": map[string]interface{}{"enabled": true, "running": true}}
	return New("test", "signal", token, status, fakeCounter(7), fp), fp
}

func do(t *testing.T, s *Server, method, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer("")

	if code, body := do(t, s, http.MethodGet, "/health", ""); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("/health = %d %v", code, body)
	}
	code, body := do(t, s, http.MethodGet, "/status", "")
	if code != http.StatusOK || body["dedupe_entries"] != float64(7) || body["version"] != "test" {
		t.Fatalf("/status = %d %v", code, body)
	}
	if _, ok := body["accounts"].(map[string]any)["default"]; !ok {
		t.Fatalf("/status accounts = %v", body["accounts"])
	}
}

func TestPairingRoutesRequireToken(t *testing.T) {
	s, fp := newTestServer("secret")

	if code, _ := do(t, s, http.MethodGet, "/pairing", ""); code != http.StatusForbidden {
		t.Fatalf("no token: status %d, want 403", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/pairing", "wrong"); code != http.StatusForbidden {
		t.Fatalf("wrong token: status %d, want 403", code)
	}
	code, body := do(t, s, http.MethodGet, "/pairing", "secret")
	if reqs, _ := body["requests"].([]any); code != http.StatusOK || len(reqs) != 1 {
		t.Fatalf("list = %d %v", code, body)
	}

	if code, _ := do(t, s, http.MethodPost, "/pairing/nope/approve", "secret"); code != http.StatusNotFound {
		t.Fatalf("approve unknown: %d, want 404", code)
	}
	code, body = do(t, s, http.MethodPost, "/pairing/abcd2345/approve", "secret")
	if code != http.StatusOK || body["senderId"] != "+15550001111" {
		t.Fatalf("approve = %d %v", code, body)
	}
	if len(fp.pending) != 0 {
		t.Fatalf("request still pending after approve")
	}
}

func TestPairingRoutesDisabledWithoutToken(t *testing.T) {
	s, _ := newTestServer("")
	if code, _ := do(t, s, http.MethodGet, "/pairing", "anything"); code != http.StatusNotFound {
		t.Fatalf("status %d, want 404 when admin token is unset", code)
	}
}
