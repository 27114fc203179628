// Package health probes the conversational server before a call starts.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// RunningStatus is the status string a healthy server reports.
const RunningStatus = "Server is running"

// Capabilities the client needs before a call is useful.
const (
	ServiceTranscription = "deepgram"
	ServiceLanguageModel = "groq"
)

type response struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
}

// Report is the outcome of one probe.
type Report struct {
	URL      string
	Online   bool
	Status   string
	Services map[string]bool
	Err      error
}

// Ready reports whether the server is up and can transcribe and answer.
func (r Report) Ready() bool {
	return r.Online && r.Services[ServiceTranscription] && r.Services[ServiceLanguageModel]
}

// Summary is a one-line description suitable for a status bar.
func (r Report) Summary() string {
	switch {
	case !r.Online && r.Err != nil:
		return "Server offline: " + r.Err.Error()
	case !r.Online:
		return "Server offline"
	case !r.Services[ServiceTranscription]:
		return "Server online, transcription not configured"
	case !r.Services[ServiceLanguageModel]:
		return "Server online, language model not configured"
	}
	names := make([]string, 0, len(r.Services))
	for name, ok := range r.Services {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return "Server online (" + strings.Join(names, ", ") + ")"
}

// HTTPURL maps a websocket endpoint to the server's health endpoint.
func HTTPURL(wsURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", wsURL)
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Check issues GET healthURL. Every failure is reported as an offline Report
// rather than an error.
func Check(ctx context.Context, client *http.Client, healthURL string) Report {
	if client == nil {
		client = http.DefaultClient
	}
	report := Report{URL: healthURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		report.Err = fmt.Errorf("build health request: %w", err)
		return report
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		report.Err = fmt.Errorf("health request: %w", err)
		return report
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		report.Err = fmt.Errorf("health request: unexpected status %d", resp.StatusCode)
		return report
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		report.Err = fmt.Errorf("decode health response: %w", err)
		return report
	}
	report.Status = body.Status
	report.Services = body.Services
	if report.Services == nil {
		report.Services = map[string]bool{}
	}
	if body.Status != RunningStatus {
		report.Err = fmt.Errorf("server reported status %q", body.Status)
		return report
	}
	report.Online = true
	return report
}
