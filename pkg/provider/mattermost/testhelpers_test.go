// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// failure is a canned error response.
type failure struct {
	Status     int
	RetryAfter string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// SelfID is returned by GET /users/me.
	SelfID string
	// Fail maps a path substring to the error response it produces.
	Fail map[string]failure
}

func newFakeMM(t *testing.T) *fakeMM {
	f := &fakeMM{SelfID: model.NewId(), Fail: make(map[string]failure)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

// Adapter returns an adapter whose client talks to the fake server.
func (f *fakeMM) Adapter() *Adapter {
	return NewAdapter(NewClient(f.Server.URL, "test-token"), zerolog.Nop())
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the calls whose path contains path.
func (f *fakeMM) CallsTo(method, path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	fails := f.Fail
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	for prefix, fail := range fails {
		if strings.Contains(r.URL.Path, prefix) {
			if fail.RetryAfter != "" {
				w.Header().Set("Retry-After", fail.RetryAfter)
			}
			w.WriteHeader(fail.Status)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "fake.error", "message": "fake error", "status_code": fail.Status})
			return
		}
	}

	path := r.URL.Path
	switch {
	// GET /api/v4/users/me
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		if r.Header.Get("Authorization") != model.HeaderBearer+" test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(&model.User{Id: f.SelfID, Username: "chatsync-bot"})

	// POST /api/v4/posts
	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = model.NewId()
		_ = json.NewEncoder(w).Encode(&post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == http.MethodPut && strings.HasSuffix(path, "/patch"):
		_ = json.NewEncoder(w).Encode(&model.Post{Id: strings.Split(path, "/")[4]})

	// DELETE /api/v4/posts/{post_id}
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/api/v4/posts/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})

	// POST /api/v4/reactions
	case r.Method == http.MethodPost && path == "/api/v4/reactions":
		var reaction model.Reaction
		_ = json.Unmarshal(body, &reaction)
		_ = json.NewEncoder(w).Encode(&reaction)

	// DELETE /api/v4/users/{user_id}/posts/{post_id}/reactions/{emoji_name}
	case r.Method == http.MethodDelete && strings.Contains(path, "/posts/") && strings.Contains(path, "/reactions/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK"})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}
