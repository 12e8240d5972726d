package quota

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/session/sessiontest"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// callLog records request paths in order.
type callLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *callLog) add(p string) {
	l.mu.Lock()
	l.paths = append(l.paths, p)
	l.mu.Unlock()
}

func (l *callLog) count(p string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, x := range l.paths {
		if x == p {
			n++
		}
	}
	return n
}

const tokenPath = "/token"

const modelsBody = `{"models":{
	"gpt-oss-120b-medium":{"quotaInfo":{"remainingFraction":0.25,"resetTime":"2025-01-01T10:00:00Z"}},
	"unknown-model":{"quotaInfo":{"remainingFraction":1}},
	"gemini-3-flash":{"displayName":"Gemini 3 Flash"},
	"gemini-3-pro-high":{"quotaInfo":{"remainingFraction":1.2,"resetTime":"2025-01-01T12:30:00Z"}},
	"claude-sonnet-4-5":{"quotaInfo":{"remainingFraction":0.5,"resetTime":"not-a-time"}}
}}`

func newTestClient(t *testing.T, fn func(req *http.Request) (*http.Response, error)) *Client {
	t.Helper()
	return New(Config{
		ClientID:     "cid",
		ClientSecret: "csec",
		BaseURL:      "https://cloudcode.test",
		TokenURL:     "https://oauth.test" + tokenPath,
	}, WithHTTPClient(&http.Client{Transport: &MockRoundTripper{RoundTripFunc: fn}}))
}

func bearer(req *http.Request) string {
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
}

func TestGetAccountQuota_Success(t *testing.T) {
	var calls callLog
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.add(req.URL.Path)
		if got := req.Header.Get("User-Agent"); got != "antigravity/windows/amd64" {
			t.Errorf("User-Agent = %q", got)
		}
		switch req.URL.Path {
		case loadCodeAssistPath:
			body, _ := io.ReadAll(req.Body)
			if !strings.Contains(string(body), `"ideType":"ANTIGRAVITY"`) {
				t.Errorf("unexpected loadCodeAssist body %s", body)
			}
			return jsonResponse(200, `{"cloudaicompanionProject":"proj-1"}`), nil
		case fetchModelsPath:
			var payload map[string]string
			_ = json.NewDecoder(req.Body).Decode(&payload)
			if payload["project"] != "proj-1" {
				t.Errorf("project = %q, want proj-1", payload["project"])
			}
			return jsonResponse(200, modelsBody), nil
		}
		return nil, errors.New("unexpected request " + req.URL.Path)
	})

	q := client.GetAccountQuota(context.Background(), sessiontest.Blob("a@x.com", "Pro", "access", "refresh"))
	if !q.Valid() {
		t.Fatalf("unexpected error %q", q.Error)
	}
	if q.Email != "a@x.com" || q.Plan != "Pro" {
		t.Errorf("identity = %s/%s", q.Email, q.Plan)
	}
	if calls.count(tokenPath) != 0 {
		t.Error("token refresh should not be called when loadCodeAssist succeeds")
	}

	wantOrder := []string{"gemini-3-pro-high", "claude-sonnet-4-5", "gpt-oss-120b-medium"}
	if len(q.Models) != len(wantOrder) {
		t.Fatalf("got %d models, want %d", len(q.Models), len(wantOrder))
	}
	for i, id := range wantOrder {
		if q.Models[i].ModelID != id {
			t.Errorf("model[%d] = %s, want %s", i, q.Models[i].ModelID, id)
		}
	}
	for _, m := range q.Models {
		if m.ModelID == "gemini-3-flash" {
			t.Errorf("model without quota info should be skipped, got %+v", m)
		}
	}

	high := q.Models[0]
	if high.ModelName != "Gemini 3 Pro (High)" {
		t.Errorf("name = %q", high.ModelName)
	}
	if high.Percentage != 100 {
		t.Errorf("percentage should clamp to 100, got %v", high.Percentage)
	}
	if high.ResetText != "19:30 01/01/2025" {
		t.Errorf("reset text = %q", high.ResetText)
	}
	if q.Models[1].ResetText != "not-a-time" {
		t.Errorf("unparseable reset time should pass through, got %q", q.Models[1].ResetText)
	}
	if q.Models[2].Percentage != 25 {
		t.Errorf("percentage = %v, want 25", q.Models[2].Percentage)
	}
}

// An expired access token triggers exactly one refresh, then one successful loadCodeAssist call.
func TestGetAccountQuota_ExpiredTokenRefreshes(t *testing.T) {
	var calls callLog
	var assistCalls atomic.Int32
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls.add(req.URL.Path)
		switch req.URL.Path {
		case tokenPath:
			if err := req.ParseForm(); err != nil {
				t.Fatal(err)
			}
			if req.PostForm.Get("grant_type") != "refresh_token" || req.PostForm.Get("refresh_token") != "refresh" {
				t.Errorf("unexpected token form %v", req.PostForm)
			}
			if req.PostForm.Get("client_id") != "cid" || req.PostForm.Get("client_secret") != "csec" {
				t.Errorf("missing client credentials %v", req.PostForm)
			}
			return jsonResponse(200, `{"access_token":"fresh","expires_in":3600}`), nil
		case loadCodeAssistPath:
			assistCalls.Add(1)
			if bearer(req) != "fresh" {
				return jsonResponse(401, `{"error":"expired"}`), nil
			}
			return jsonResponse(200, `{"project":{"id":"proj-obj"}}`), nil
		case fetchModelsPath:
			if bearer(req) != "fresh" {
				t.Errorf("quota fetch used stale token %q", bearer(req))
			}
			return jsonResponse(200, modelsBody), nil
		}
		return nil, errors.New("unexpected request")
	})

	q := client.GetAccountQuota(context.Background(), sessiontest.Blob("a@x.com", "Pro", "stale", "refresh"))
	if !q.Valid() {
		t.Fatalf("unexpected error %q", q.Error)
	}
	if n := calls.count(tokenPath); n != 1 {
		t.Errorf("token refresh calls = %d, want 1", n)
	}
	if n := assistCalls.Load(); n != 2 {
		t.Errorf("loadCodeAssist calls = %d, want 2 (stale + refreshed)", n)
	}
	// refresh must happen before the successful loadCodeAssist call
	if calls.paths[0] != loadCodeAssistPath || calls.paths[1] != tokenPath || calls.paths[2] != loadCodeAssistPath {
		t.Errorf("call order = %v", calls.paths)
	}
}

func TestGetAccountQuota_Errors(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		handler func(req *http.Request) (*http.Response, error)
		want    string
	}{
		{
			name: "DecodeFailure",
			blob: "!!! not base64 !!!",
			want: ErrTextDecode,
		},
		{
			name: "MissingAuth",
			blob: sessiontest.Blob("a@x.com", "Pro", "access", ""),
			want: ErrTextMissingAuth,
		},
		{
			name: "RefreshFails",
			blob: sessiontest.Blob("a@x.com", "Pro", "stale", "refresh"),
			handler: func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == tokenPath {
					return jsonResponse(400, `{"error":"invalid_grant"}`), nil
				}
				return jsonResponse(401, ``), nil
			},
			want: ErrTextNoProject,
		},
		{
			name: "AssistWithoutProject",
			blob: sessiontest.Blob("a@x.com", "Pro", "access", "refresh"),
			handler: func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == tokenPath {
					return jsonResponse(200, `{"access_token":"fresh"}`), nil
				}
				return jsonResponse(200, `{"currentTier":{}}`), nil
			},
			want: ErrTextNoProject,
		},
		{
			name: "QuotaStatusError",
			blob: sessiontest.Blob("a@x.com", "Pro", "access", "refresh"),
			handler: func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == loadCodeAssistPath {
					return jsonResponse(200, `{"projectId":"p"}`), nil
				}
				return jsonResponse(500, `boom`), nil
			},
			want: ErrTextNoQuota,
		},
		{
			name: "QuotaMissingModels",
			blob: sessiontest.Blob("a@x.com", "Pro", "access", "refresh"),
			handler: func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == loadCodeAssistPath {
					return jsonResponse(200, `{"projectId":"p"}`), nil
				}
				return jsonResponse(200, `{}`), nil
			},
			want: ErrTextNoQuota,
		},
		{
			name: "QuotaNetworkError",
			blob: sessiontest.Blob("a@x.com", "Pro", "access", "refresh"),
			handler: func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == loadCodeAssistPath {
					return jsonResponse(200, `{"projectId":"p"}`), nil
				}
				return nil, errors.New("connection reset")
			},
			want: ErrTextNoQuota,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.handler
			if handler == nil {
				handler = func(req *http.Request) (*http.Response, error) {
					t.Errorf("no network call expected, got %s", req.URL.Path)
					return nil, errors.New("unexpected")
				}
			}
			q := newTestClient(t, handler).GetAccountQuota(context.Background(), tt.blob)
			if q.Error != tt.want {
				t.Errorf("Error = %q, want %q", q.Error, tt.want)
			}
			if len(q.Models) != 0 {
				t.Errorf("models must be empty on error, got %d", len(q.Models))
			}
		})
	}
}

func TestProjectIDFrom(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"abc"`, "abc"},
		{`{"id":"obj"}`, "obj"},
		{`{"name":"x"}`, ""},
		{`42`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := projectIDFrom(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("projectIDFrom(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestProjectIDPriority(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"projectId":"third","project":"second","cloudaicompanionProject":"first"}`), nil
	})
	id, err := client.loadProjectID(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if id != "first" {
		t.Errorf("id = %q, want first", id)
	}
}

func TestFormatResetTime(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"2025-03-04T17:05:00Z", "00:05 05/03/2025"},
		{"2025-03-04T17:05:00.123456Z", "00:05 05/03/2025"},
		{"2025-03-04T10:05:00+02:00", "15:05 04/03/2025"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		if got := FormatResetTime(tt.in, loc); got != tt.want {
			t.Errorf("FormatResetTime(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchAll_KeepsOrderAndLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if req.URL.Path == loadCodeAssistPath {
			return jsonResponse(200, `{"project":"p"}`), nil
		}
		return jsonResponse(200, modelsBody), nil
	})
	client.config.MaxConcurrent = 2

	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	blobs := make([]string, len(emails))
	for i, e := range emails {
		blobs[i] = sessiontest.Blob(e, "Pro", "tok", "refresh")
	}
	blobs = append(blobs, "%%%")

	results := client.FetchAll(context.Background(), blobs)
	if len(results) != len(blobs) {
		t.Fatalf("got %d results", len(results))
	}
	for i, e := range emails {
		if results[i].Email != e || !results[i].Valid() {
			t.Errorf("result[%d] = %s (%q)", i, results[i].Email, results[i].Error)
		}
	}
	if results[len(results)-1].Error != ErrTextDecode {
		t.Errorf("last result error = %q", results[len(results)-1].Error)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestPreheat(t *testing.T) {
	var gotPayload preheatRequest
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case loadCodeAssistPath:
			return jsonResponse(200, `{"project":"proj"}`), nil
		case generateContentPath:
			_ = json.NewDecoder(req.Body).Decode(&gotPayload)
			return jsonResponse(200, `{}`), nil
		}
		return nil, errors.New("unexpected")
	})

	ok, err := client.Preheat(context.Background(), sessiontest.Blob("a@x.com", "Pro", "tok", "r"), "gemini-3-flash")
	if err != nil || !ok {
		t.Fatalf("Preheat = %v, %v", ok, err)
	}
	if gotPayload.Project != "proj" || gotPayload.Model != "gemini-3-flash" {
		t.Errorf("payload = %+v", gotPayload)
	}
	if len(gotPayload.Request.Contents) != 1 || gotPayload.Request.Contents[0].Parts[0]["text"] != "Hi" {
		t.Errorf("contents = %+v", gotPayload.Request.Contents)
	}
	if gotPayload.Request.GenerationConfig["maxOutputTokens"] != 1 {
		t.Errorf("generationConfig = %v", gotPayload.Request.GenerationConfig)
	}
}

func TestPreheat_Failures(t *testing.T) {
	t.Run("Rejected", func(t *testing.T) {
		client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
			if req.URL.Path == loadCodeAssistPath {
				return jsonResponse(200, `{"project":"proj"}`), nil
			}
			return jsonResponse(429, `rate limited`), nil
		})
		ok, err := client.Preheat(context.Background(), sessiontest.Blob("a@x.com", "Pro", "tok", "r"), "gemini-3-flash")
		if ok {
			t.Error("expected failure")
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Code != 429 {
			t.Errorf("err = %v, want StatusError 429", err)
		}
	})

	t.Run("MissingAuth", func(t *testing.T) {
		client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
			t.Error("no network call expected")
			return nil, errors.New("unexpected")
		})
		_, err := client.Preheat(context.Background(), sessiontest.Blob("a@x.com", "Pro", "tok", ""), "m")
		if !errors.Is(err, ErrMissingAuth) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("NoProject", func(t *testing.T) {
		client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
			return jsonResponse(401, ``), nil
		})
		_, err := client.Preheat(context.Background(), sessiontest.Blob("a@x.com", "Pro", "tok", "r"), "m")
		if !errors.Is(err, ErrNoProject) {
			t.Errorf("err = %v, want ErrNoProject", err)
		}
	})
}

func TestDisplayName(t *testing.T) {
	if name, ok := DisplayName("claude-opus-4-5-thinking"); !ok || name != "Claude Opus 4.5 (Thinking)" {
		t.Errorf("DisplayName = %q, %v", name, ok)
	}
	if _, ok := DisplayName("nope"); ok {
		t.Error("unknown model should not resolve")
	}
	if len(TrackedModels) != 7 {
		t.Errorf("tracked models = %d", len(TrackedModels))
	}
}
