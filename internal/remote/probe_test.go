package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := Reachable(ctx, server.URL+"/b"); err != nil {
		t.Errorf("Reachable() = %v, want nil", err)
	}
}

func TestReachable_Unreachable(t *testing.T) {
	// Grab a free port and release it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = Reachable(ctx, "http://"+addr+"/b")
	var re *RemoteError
	if !errors.As(err, &re) || re.Reason != ReasonNetwork {
		t.Errorf("Reachable() = %v, want network RemoteError", err)
	}
}

func TestReachable_InvalidURL(t *testing.T) {
	for _, u := range []string{"::bad", "/relative/only"} {
		if err := Reachable(context.Background(), u); err == nil {
			t.Errorf("Reachable(%q) should fail", u)
		}
	}
}
