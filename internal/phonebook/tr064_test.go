package phonebook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// TestAuthorizeRFC2617Vector checks the Digest computation against the
// worked example from RFC 2617 section 3.5.
func TestAuthorizeRFC2617Vector(t *testing.T) {
	c := &Client{
		username: "Mufasa",
		password: "Circle Of Life",
		cnonce:   "0a4f113b",
	}

	challenge := `Digest realm="testrealm@host.com", qop="auth,auth-int", ` +
		`nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`

	authz, err := c.authorize(challenge, http.MethodGet, "http://www.example.org/dir/index.html")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if !strings.Contains(authz, `response="6629fae49393a05397450978507c4ef1"`) {
		t.Errorf("Authorization = %q, want response hash 6629fae49393a05397450978507c4ef1", authz)
	}
	if !strings.Contains(authz, `username="Mufasa"`) {
		t.Errorf("Authorization missing username: %q", authz)
	}
	if !strings.Contains(authz, `uri="/dir/index.html"`) {
		t.Errorf("Authorization missing uri: %q", authz)
	}
}

// newTestClient points a phonebook client at an httptest server.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("splitting host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	c := NewClient(host, port, "monitor", "secret", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.http = srv.Client()
	return c
}

const testChallenge = `Digest realm="HTTPS Access", nonce="0123456789abcdef", qop="auth", algorithm=MD5`

// challengingHandler wraps h with a Digest 401 challenge on requests that
// carry no Authorization header.
func challengingHandler(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", testChallenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

func TestFetchPhonebookHandshake(t *testing.T) {
	var soapCalls, downloadCalls int
	mux := http.NewServeMux()

	var srv *httptest.Server
	mux.HandleFunc(tr064ControlPath, challengingHandler(func(w http.ResponseWriter, r *http.Request) {
		soapCalls++
		if got := r.Header.Get("SOAPAction"); !strings.Contains(got, "GetPhonebook") {
			t.Errorf("SOAPAction = %q", got)
		}
		fmt.Fprintf(w, `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>
<u:GetPhonebookResponse xmlns:u="urn:dslforum-org:service:X_AVM-DE_OnTel:1">
<NewPhonebookURL>%s/phonebook.xml?sid=abc</NewPhonebookURL>
</u:GetPhonebookResponse></s:Body></s:Envelope>`, srv.URL)
	}))
	mux.HandleFunc("/phonebook.xml", challengingHandler(func(w http.ResponseWriter, r *http.Request) {
		downloadCalls++
		w.Write([]byte(samplePhonebook))
	}))

	srv = httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv)
	contacts, err := c.FetchPhonebook(context.Background())
	if err != nil {
		t.Fatalf("FetchPhonebook: %v", err)
	}

	if len(contacts) != 2 {
		t.Errorf("len(contacts) = %d, want 2", len(contacts))
	}
	if soapCalls != 1 || downloadCalls != 1 {
		t.Errorf("soapCalls = %d, downloadCalls = %d; want 1 each", soapCalls, downloadCalls)
	}
}

func TestFetchPhonebookAuthFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Challenge every request, including the authorized retry.
		w.Header().Set("WWW-Authenticate", testChallenge)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPhonebook(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
}

func TestFetchPhonebookUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPhonebook(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
}

func TestFetchPhonebookUnreachable(t *testing.T) {
	c := NewClient("127.0.0.1", 1, "monitor", "secret", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.FetchPhonebook(context.Background())
	if err == nil {
		t.Fatal("expected error for unreachable host")
	}
	if classifyRefreshError(err) != StatusUnreachable {
		t.Errorf("classified as %q, want unreachable", classifyRefreshError(err))
	}
}
