package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func tokenServer(t *testing.T, issued *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(issued, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenIsCached(t *testing.T) {
	var issued int32
	srv := tokenServer(t, &issued)
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", AuthURL: srv.URL})

	for i := 0; i < 3; i++ {
		tok, err := client.Token(context.Background())
		if err != nil {
			t.Fatalf("Token returned error: %v", err)
		}
		if tok.AccessToken != "token123" {
			t.Fatalf("unexpected token %s", tok.AccessToken)
		}
	}
	if n := atomic.LoadInt32(&issued); n != 1 {
		t.Fatalf("expected one token request, got %d", n)
	}

	client.Invalidate()
	if _, err := client.Token(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&issued); n != 2 {
		t.Fatalf("expected refresh after invalidate, got %d requests", n)
	}
}

func TestSetAuthHeader(t *testing.T) {
	var issued int32
	srv := tokenServer(t, &issued)
	client := NewClientCred(Conf{ClientID: "id", ClientSecret: "secret", AuthURL: srv.URL})

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if err := client.SetAuthHeader(req); err != nil {
		t.Fatalf("SetAuthHeader returned error: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer token123" {
		t.Fatalf("Authorization header = %q", got)
	}
}

func TestConfValidate(t *testing.T) {
	if err := (Conf{}).Validate(); err != nil {
		t.Fatalf("empty conf should be valid: %v", err)
	}
	if err := (Conf{ClientID: "id"}).Validate(); err == nil {
		t.Fatal("expected error for partial conf")
	}
}
