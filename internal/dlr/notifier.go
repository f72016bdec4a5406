// Package dlr sends delivery-receipt style notifications about probe results.
package dlr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Status values understood by receivers.
const (
	StatusDelivered   = 1
	StatusUndelivered = 2
)

var ErrNotConfigured = errors.New("dlr: url not configured")

type Config struct {
	// URL may contain {status}, {code}, {number} and {message_id} placeholders.
	URL    string
	Method string
	// SkipTLSVerify disables certificate validation for receivers with self-signed certs.
	SkipTLSVerify bool
	Timeout       time.Duration
}

// Receipt describes one probe outcome.
type Receipt struct {
	Number    string
	MessageID string
	Available bool
	Code      int
}

// Status maps availability onto the receipt status code.
func (r Receipt) Status() int {
	if r.Available {
		return StatusDelivered
	}
	return StatusUndelivered
}

func (r Receipt) values() map[string]string {
	return map[string]string{
		"status":     strconv.Itoa(r.Status()),
		"code":       strconv.Itoa(r.Code),
		"number":     r.Number,
		"message_id": r.MessageID,
	}
}

type Notifier struct {
	cfg        Config
	httpClient *http.Client
}

func NewNotifier(cfg Config) *Notifier {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per receiver
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

func (n *Notifier) Enabled() bool { return n != nil && n.cfg.URL != "" }

// Notify delivers one receipt. GET receivers get everything in the URL; POST receivers
// additionally get the fields as a form body.
func (n *Notifier) Notify(ctx context.Context, r Receipt) error {
	if !n.Enabled() {
		return ErrNotConfigured
	}
	vals := r.values()
	reqURL := expand(n.cfg.URL, vals)

	var body io.Reader
	if n.cfg.Method == http.MethodPost {
		form := url.Values{}
		for k, v := range vals {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dlr receiver error (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// expand substitutes {name} placeholders with query-escaped values.
func expand(tmpl string, vals map[string]string) string {
	pairs := make([]string, 0, len(vals)*2)
	for k, v := range vals {
		pairs = append(pairs, "{"+k+"}", url.QueryEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
