package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret-key", 100, srv.Client(), zerolog.Nop()), srv
}

func TestFetchCatalog_OKParsesBodyAndToken(t *testing.T) {
	var gotPath, gotToken, gotIfNoneMatch string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotToken = r.Header.Get("X-Token")
		gotIfNoneMatch = r.Header.Get("If-None-Match")
		w.Header().Set("ETag", `"abc"`)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "m1", "enabled": true},
				{"id": "m2", "enabled": false},
			},
			"metadata": map[string]any{"total": 2},
		})
	})

	res, err := client.FetchCatalog(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if gotPath != "/popups?search=&sortBy=newest&offset=0&limit=100" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotToken != "secret-key" {
		t.Errorf("X-Token = %q, want secret-key", gotToken)
	}
	if gotIfNoneMatch != "" {
		t.Errorf("If-None-Match must be absent without a cached token, got %q", gotIfNoneMatch)
	}
	if res.NotModified {
		t.Fatalf("200 must not report NotModified")
	}
	if res.Token != `"abc"` {
		t.Errorf("token = %q, want %q", res.Token, `"abc"`)
	}
	if len(res.Messages) != 2 || res.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v", res.Messages)
	}
}

func TestFetchCatalog_SendsIfNoneMatch(t *testing.T) {
	var got string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	})

	res, err := client.FetchCatalog(context.Background(), `"abc"`)
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if got != `"abc"` {
		t.Errorf("If-None-Match = %q, want %q", got, `"abc"`)
	}
	if !res.NotModified {
		t.Fatalf("304 must report NotModified")
	}
	if len(res.Messages) != 0 {
		t.Fatalf("304 must carry no messages")
	}
}

func TestFetchCatalog_HTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchCatalog(context.Background(), "")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.Status != 500 {
		t.Fatalf("status = %d, want 500", httpErr.Status)
	}
}

func TestFetchCatalog_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := New(srv.URL, "k", 100, nil, zerolog.Nop())
	srv.Close()

	_, err := client.FetchCatalog(context.Background(), "")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
}

func TestFetchCatalog_DecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := client.FetchCatalog(context.Background(), "")
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestFetchCatalog_DropsInvalidEntries(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "", "enabled": true}, // missing ID
				{"id": "m2", "enabled": true},
			},
		})
	})

	res, err := client.FetchCatalog(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].ID != "m2" {
		t.Fatalf("invalid entry must be dropped, got %+v", res.Messages)
	}
}

func TestPostEvent_SuccessWithBody(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inapp/event" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	if err := client.PostEvent(context.Background(), "inapp.show", "m1"); err != nil {
		t.Fatalf("PostEvent: %v", err)
	}
	if gotBody["action"] != "inapp.show" || gotBody["inApp"] != "m1" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestPostEvent_SuccessWithEmptyBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.PostEvent(context.Background(), "inapp.close", "m1"); err != nil {
		t.Fatalf("PostEvent on 204: %v", err)
	}
}

func TestPostEvent_BackendRejection(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unknown message"})
	})

	err := client.PostEvent(context.Background(), "inapp.show", "m1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Message != "unknown message" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestPostEvent_HTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.PostEvent(context.Background(), "inapp.show", "m1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 502 {
		t.Fatalf("err = %v, want *HTTPError(502)", err)
	}
}
