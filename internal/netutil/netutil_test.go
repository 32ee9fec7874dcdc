package netutil

import (
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/armon/go-socks5"
)

func startSocks5(t *testing.T, creds socks5.StaticCredentials) string {
	t.Helper()
	conf := &socks5.Config{Logger: log.New(io.Discard, "", log.LstdFlags)}
	if creds != nil {
		conf.AuthMethods = []socks5.Authenticator{socks5.UserPassAuthenticator{Credentials: creds}}
	}
	server, err := socks5.New(conf)
	if err != nil {
		t.Fatalf("socks5.New: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go server.Serve(l)
	return l.Addr().String()
}

func getThrough(t *testing.T, dial DialFunc, target string) string {
	t.Helper()
	client := &http.Client{
		Transport: &http.Transport{DialContext: dial},
		Timeout:   5 * time.Second,
	}
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("GET via dialer: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewDialerDirect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "direct")
	}))
	defer ts.Close()

	dial, err := NewDialer("", time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if got := getThrough(t, dial, ts.URL); got != "direct" {
		t.Fatalf("expected body %q, got %q", "direct", got)
	}
}

func TestNewDialerSocks5(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "via-socks")
	}))
	defer ts.Close()

	addr := startSocks5(t, socks5.StaticCredentials{"nisit": "secret"})
	dial, err := NewDialer("socks5://nisit:secret@"+addr, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if got := getThrough(t, dial, ts.URL); got != "via-socks" {
		t.Fatalf("expected body %q, got %q", "via-socks", got)
	}
}

func TestNewDialerSocks5BadCredentials(t *testing.T) {
	addr := startSocks5(t, socks5.StaticCredentials{"nisit": "secret"})
	dial, err := NewDialer("socks5://nisit:wrong@"+addr, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DialContext: dial}, Timeout: 2 * time.Second}
	if _, err := client.Get("http://127.0.0.1:1/"); err == nil {
		t.Fatalf("expected auth failure through socks5")
	}
}

func TestNewDialerHTTPConnect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "via-connect")
	}))
	defer ts.Close()

	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			http.Error(w, "connect only", http.StatusMethodNotAllowed)
			return
		}
		upstream, err := net.Dial("tcp", r.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			upstream.Close()
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		go func() {
			io.Copy(upstream, conn)
			upstream.Close()
		}()
		io.Copy(conn, upstream)
		conn.Close()
	}))
	defer proxySrv.Close()

	dial, err := NewDialer(proxySrv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	if got := getThrough(t, dial, ts.URL); got != "via-connect" {
		t.Fatalf("expected body %q, got %q", "via-connect", got)
	}
}

func TestNewDialerUnknownScheme(t *testing.T) {
	if _, err := NewDialer("ftp://127.0.0.1:21", time.Second); err == nil {
		t.Fatalf("expected error for unsupported proxy scheme")
	}
}
