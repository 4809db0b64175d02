package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRelayForward(t *testing.T) {
	var (
		gotMethod, gotType, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRelay(srv.URL+"/receiveSaleFeed", time.Second)
	status, err := r.Forward(context.Background(), []byte(saleDoc))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", status)
	}
	if gotMethod != http.MethodPost || gotType != "application/json" || gotBody != saleDoc {
		t.Errorf("request: %s %s %s", gotMethod, gotType, gotBody)
	}
}

func TestRelayForwardTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewRelay(url, time.Second)
	if _, err := r.Forward(context.Background(), []byte(`{}`)); err == nil {
		t.Error("Forward to a closed server: expected error")
	}
}
