package phonebook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
)

// TR-064 contact service endpoints, fixed by the gateway vendor.
const (
	tr064ControlPath = "/upnp/control/x_contact"
	tr064Service     = "urn:dslforum-org:service:X_AVM-DE_OnTel:1"
)

// ErrAuthFailed is returned when the gateway rejects the Digest-authorized
// request, i.e. the credentials are wrong.
var ErrAuthFailed = errors.New("digest authentication rejected")

// StatusError reports a non-success HTTP status other than the initial
// Digest challenge.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// Client fetches one phonebook from the gateway's TR-064 contact service.
// Each fetch redoes the full Digest handshake; credentials are never cached
// between calls.
type Client struct {
	http        *http.Client
	baseURL     string
	username    string
	password    string
	phonebookID int
	logger      *slog.Logger

	// cnonce overrides the random client nonce in tests.
	cnonce string
}

// NewClient creates a TR-064 phonebook client for the gateway at host:port.
func NewClient(host string, port int, username, password string, phonebookID int, logger *slog.Logger) *Client {
	return &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		baseURL:     fmt.Sprintf("http://%s:%d", host, port),
		username:    username,
		password:    password,
		phonebookID: phonebookID,
		logger:      logger.With("subsystem", "tr064"),
	}
}

// FetchPhonebook retrieves and parses the configured phonebook. The TR-064
// service does not serve the document at a fixed path: a GetPhonebook SOAP
// action first yields a download URL, which is then fetched. Both requests
// are Digest-authenticated.
func (c *Client) FetchPhonebook(ctx context.Context) ([]Contact, error) {
	bookURL, err := c.phonebookURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving phonebook url: %w", err)
	}

	doc, err := c.get(ctx, bookURL)
	if err != nil {
		return nil, fmt.Errorf("downloading phonebook: %w", err)
	}

	return ParsePhonebook(doc)
}

// phonebookURL calls the GetPhonebook SOAP action and extracts
// NewPhonebookURL from the response envelope.
func (c *Client) phonebookURL(ctx context.Context) (string, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>`+
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" `+
		`s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`+
		`<s:Body><u:GetPhonebook xmlns:u="%s">`+
		`<NewPhonebookID>%d</NewPhonebookID>`+
		`</u:GetPhonebook></s:Body></s:Envelope>`,
		tr064Service, c.phonebookID)

	header := http.Header{
		"Content-Type": []string{`text/xml; charset="utf-8"`},
		"SOAPAction":   []string{fmt.Sprintf("%q", tr064Service+"#GetPhonebook")},
	}

	resp, err := c.doDigest(ctx, http.MethodPost, c.baseURL+tr064ControlPath, body, header)
	if err != nil {
		return "", err
	}

	bookURL, err := extractElement(resp, "NewPhonebookURL")
	if err != nil {
		return "", err
	}
	return bookURL, nil
}

// get performs a Digest-authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return c.doDigest(ctx, http.MethodGet, url, "", nil)
}

// doDigest performs one request with Digest challenge handling: the initial
// attempt goes out unauthenticated; a 401 carrying a Digest challenge is
// answered exactly once with a computed Authorization header. A second 401
// means the credentials are wrong.
func (c *Client) doDigest(ctx context.Context, method, url, body string, header http.Header) ([]byte, error) {
	resp, err := c.send(ctx, method, url, body, header, "")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		drain(resp)

		if !strings.HasPrefix(strings.ToLower(challenge), "digest") {
			return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}

		authz, err := c.authorize(challenge, method, url)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, method, url, body, header, authz)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			drain(resp)
			return nil, ErrAuthFailed
		}
	}

	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

// authorize computes the Authorization header value for a Digest challenge.
func (c *Client) authorize(challenge, method, rawurl string) (string, error) {
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("parsing digest challenge: %w", err)
	}

	req, err := http.NewRequest(method, rawurl, nil)
	if err != nil {
		return "", fmt.Errorf("building request uri: %w", err)
	}

	cnonce := c.cnonce
	if cnonce == "" {
		cnonce = randomCnonce()
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      req.URL.RequestURI(),
		Username: c.username,
		Password: c.password,
		Cnonce:   cnonce,
		Count:    1,
	})
	if err != nil {
		return "", fmt.Errorf("computing digest response: %w", err)
	}
	return cred.String(), nil
}

func (c *Client) send(ctx context.Context, method, url, body string, header http.Header, authz string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	return resp, nil
}

func randomCnonce() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// drain discards and closes a response body so the connection can be reused
// for the authenticated retry.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// extractElement scans an XML document for the first element with the given
// local name and returns its character data. The SOAP response namespaces
// vary between firmware versions, so matching is namespace-agnostic.
func extractElement(doc []byte, local string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(doc)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("element %s not found in response", local)
		}
		if err != nil {
			return "", &ParseError{Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}
		var value string
		if err := dec.DecodeElement(&value, &start); err != nil {
			return "", &ParseError{Err: err}
		}
		return strings.TrimSpace(value), nil
	}
}
