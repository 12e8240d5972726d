package quota

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestRefreshAccessToken(t *testing.T) {
	tests := []struct {
		name         string
		refreshToken string
		handler      func(req *http.Request) (*http.Response, error)
		want         string
		wantErr      bool
	}{
		{
			name:         "Success",
			refreshToken: "valid",
			handler: func(req *http.Request) (*http.Response, error) {
				if ct := req.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
					return nil, errors.New("bad content type " + ct)
				}
				return jsonResponse(200, `{"access_token":"new","expires_in":3599,"token_type":"Bearer"}`), nil
			},
			want: "new",
		},
		{
			name:         "EmptyToken",
			refreshToken: "",
			wantErr:      true,
		},
		{
			name:         "HTTPError",
			refreshToken: "valid",
			handler: func(req *http.Request) (*http.Response, error) {
				return nil, errors.New("net error")
			},
			wantErr: true,
		},
		{
			name:         "StatusError",
			refreshToken: "valid",
			handler: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(400, "bad request"), nil
			},
			wantErr: true,
		},
		{
			name:         "JSONError",
			refreshToken: "valid",
			handler: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(200, "invalid json"), nil
			},
			wantErr: true,
		},
		{
			name:         "NoAccessToken",
			refreshToken: "valid",
			handler: func(req *http.Request) (*http.Response, error) {
				return jsonResponse(200, `{"token_type":"Bearer"}`), nil
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.handler
			if handler == nil {
				handler = func(req *http.Request) (*http.Response, error) {
					t.Error("unexpected request")
					return nil, errors.New("unexpected")
				}
			}
			tok, err := newTestClient(t, handler).refreshAccessToken(context.Background(), tt.refreshToken)
			if (err != nil) != tt.wantErr {
				t.Fatalf("refreshAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tok.AccessToken != tt.want {
				t.Errorf("access token = %q, want %q", tok.AccessToken, tt.want)
			}
		})
	}
}

func TestDo_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantAuth bool
		wantCode int
	}{
		{"OK", 200, false, 0},
		{"Unauthorized", 401, true, 0},
		{"Forbidden", 403, false, 403},
		{"ServerError", 503, false, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, strings.Repeat("x", 300)), nil
			})
			_, err := client.postJSON(context.Background(), fetchModelsPath, "tok", map[string]string{}, "fetchAvailableModels")

			if got := errors.Is(err, ErrUnauthorized); got != tt.wantAuth {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v (err %v)", got, tt.wantAuth, err)
			}
			var se *StatusError
			if tt.wantCode != 0 {
				if !errors.As(err, &se) || se.Code != tt.wantCode {
					t.Fatalf("err = %v, want StatusError %d", err, tt.wantCode)
				}
				if len(se.Body) != 203 {
					t.Errorf("body should be truncated, len %d", len(se.Body))
				}
			} else if tt.status == 200 && err != nil {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestLoadProjectID_EmptyToken(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Error("no request expected")
		return nil, errors.New("unexpected")
	})
	if _, err := client.loadProjectID(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
