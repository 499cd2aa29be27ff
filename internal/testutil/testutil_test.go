package testutil

import (
	"net/http"
	"testing"
)

func TestNewJSONRequest(t *testing.T) {
	t.Parallel()

	req := NewJSONRequest(t, http.MethodPost, "/api/config", map[string]int{"wheel": 2075})
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}

	empty := NewJSONRequest(t, http.MethodGet, "/api/config", nil)
	if empty.ContentLength != 0 {
		t.Errorf("content length = %d, want 0", empty.ContentLength)
	}
}

func TestServeAndDecode(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
	rec := Serve(h, NewJSONRequest(t, http.MethodGet, "/x", nil))
	AssertStatusCode(t, rec.Code, http.StatusCreated)

	var out struct{ Path string }
	DecodeJSON(t, rec, &out)
	if out.Path != "/x" {
		t.Errorf("path = %q, want /x", out.Path)
	}
}
