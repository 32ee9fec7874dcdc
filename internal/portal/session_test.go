package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/overflow0verture/ku_portal/internal/errs"
)

func echoServer(body string, code int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}))
}

func TestCollectReadsTokenAndAddresses(t *testing.T) {
	v4 := echoServer("158.108.1.2\n", http.StatusOK)
	defer v4.Close()
	v6 := echoServer("2001:3c8:9009::2", http.StatusOK)
	defer v6.Close()

	c := NewCollector(newClient(t), v4.URL, v6.URL, false)
	s, err := c.Collect(context.Background(), "https://login1.ku.ac.th", `<form><input type="hidden" id="hashc" value="abc123"></form>`)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := Session{IPv4: "158.108.1.2", IPv6: "2001:3c8:9009::2", Token: "abc123", TerminalURL: "https://login1.ku.ac.th"}
	if s != want {
		t.Fatalf("unexpected session:\n got %+v\nwant %+v", s, want)
	}
}

func TestCollectMissingTokenUsesSentinel(t *testing.T) {
	v4 := echoServer("10.0.0.1", http.StatusOK)
	defer v4.Close()
	v6 := echoServer("::1", http.StatusOK)
	defer v6.Close()

	s, err := NewCollector(newClient(t), v4.URL, v6.URL, false).Collect(context.Background(), "https://x", "<html></html>")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.Token != MissingToken {
		t.Fatalf("expected sentinel token %q, got %q", MissingToken, s.Token)
	}
}

func TestCollectBothEchoesDownDegrades(t *testing.T) {
	s, err := NewCollector(newClient(t), "http://127.0.0.1:1/ipv4", "http://127.0.0.1:1/ipv6", false).
		Collect(context.Background(), "https://x", `<input id="hashc" value="t">`)
	if err != nil {
		t.Fatalf("Collect should degrade instead of failing: %v", err)
	}
	if s.IPv4 != Unavailable || s.IPv6 != Unavailable {
		t.Fatalf("expected both addresses %q, got %q / %q", Unavailable, s.IPv4, s.IPv6)
	}
	if s.Token != "t" {
		t.Fatalf("token should still be collected, got %q", s.Token)
	}
}

func TestCollectNon2xxEchoDegrades(t *testing.T) {
	v4 := echoServer("oops", http.StatusInternalServerError)
	defer v4.Close()
	v6 := echoServer("   ", http.StatusOK)
	defer v6.Close()

	s, err := NewCollector(newClient(t), v4.URL, v6.URL, false).Collect(context.Background(), "https://x", `<input id="hashc" value="t">`)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if s.IPv4 != Unavailable || s.IPv6 != Unavailable {
		t.Fatalf("expected degraded addresses, got %q / %q", s.IPv4, s.IPv6)
	}
}

func TestCollectStrictMode(t *testing.T) {
	v4 := echoServer("10.0.0.1", http.StatusOK)
	defer v4.Close()

	cases := []struct {
		name    string
		ipv4URL string
		html    string
	}{
		{"missing token", v4.URL, "<html></html>"},
		{"no addresses", "http://127.0.0.1:1/", `<input id="hashc" value="t">`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCollector(newClient(t), tc.ipv4URL, "http://127.0.0.1:1/", true)
			_, err := c.Collect(context.Background(), "https://x", tc.html)
			var collectErr *errs.CollectError
			if !errors.As(err, &collectErr) {
				t.Fatalf("expected CollectError, got %v", err)
			}
		})
	}
}
