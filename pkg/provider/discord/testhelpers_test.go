// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package discord

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
}

// failure is a canned error response.
type failure struct {
	Status int
	Body   string
}

// fakeDiscord is a test helper that wraps an httptest.Server simulating the
// Discord REST API. It records calls and provides canned responses.
type fakeDiscord struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	seq   int

	// Fail maps a path substring to the error response it produces.
	Fail map[string]failure
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	f := &fakeDiscord{Fail: make(map[string]failure)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

// rewriteTransport sends every request to the fake server.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

// Session returns a bot session whose REST calls reach the fake server.
func (f *fakeDiscord) Session(t *testing.T) *discordgo.Session {
	session, err := NewSession("test-token")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	target, _ := url.Parse(f.Server.URL)
	session.Client = &http.Client{Transport: rewriteTransport{target: target}}
	return session
}

func (f *fakeDiscord) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeDiscord) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func (f *fakeDiscord) nextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%d", 1_100_000_000_000_000_000+f.seq)
}

func (f *fakeDiscord) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: string(body)})
	fails := f.Fail
	f.mu.Unlock()

	for prefix, fail := range fails {
		if strings.Contains(r.URL.Path, prefix) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fail.Status)
			_, _ = w.Write([]byte(fail.Body))
			return
		}
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v"+discordgo.APIVersion)
	parts := strings.Split(strings.Trim(path, "/"), "/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	// POST /channels/{ch}/webhooks
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "channels" && parts[2] == "webhooks":
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.nextID(), "token": "webhook-token", "channel_id": parts[1]})

	// POST /channels/{ch}/messages
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "channels" && parts[2] == "messages":
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.nextID(), "channel_id": parts[1]})

	// POST /channels/{ch}/messages/{msg}/threads
	case r.Method == http.MethodPost && len(parts) == 5 && parts[4] == "threads":
		_ = json.NewEncoder(w).Encode(map[string]any{"id": f.nextID(), "type": 11, "parent_id": parts[1]})

	// PATCH /channels/{ch}/messages/{msg} and /webhooks/{id}/{token}/messages/{msg}
	case r.Method == http.MethodPatch:
		_ = json.NewEncoder(w).Encode(map[string]string{"id": parts[len(parts)-1]})

	// POST /webhooks/{id}/{token}
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "webhooks":
		channel := r.URL.Query().Get("thread_id")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.nextID(), "channel_id": channel})

	case r.Method == http.MethodDelete, r.Method == http.MethodPut:
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Unknown route","code":0}`))
	}
}
