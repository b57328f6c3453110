// Copyright 2024-2026 Aiku AI

package discord

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/bwmarrin/discordgo"
	"go.mau.fi/util/retryafter"
)

// classify converts a discordgo error into a provider-API error carrying the
// HTTP status and any Retry-After the API asked for.
func classify(tag string, err error) error {
	if err == nil {
		return nil
	}
	if syncerr.IsConfiguration(err) {
		return err
	}
	se := &syncerr.Error{Kind: syncerr.KindProviderAPI, Provider: ProviderName, Tag: tag, Err: err}

	var restErr *discordgo.RESTError
	var rlErr *discordgo.RateLimitError
	switch {
	case errors.As(err, &rlErr):
		se.StatusCode = http.StatusTooManyRequests
		if rlErr.RateLimit != nil && rlErr.TooManyRequests != nil {
			se.RetryAfter = rlErr.RetryAfter
		}
	case errors.As(err, &restErr) && restErr.Response != nil:
		se.StatusCode = restErr.Response.StatusCode
		se.RetryAfter = retryafter.Parse(restErr.Response.Header.Get("Retry-After"), 0)
	case strings.HasPrefix(err.Error(), "Exceeded Max retries HTTP "):
		// discordgo reports a 502 past its own retry budget as a plain string.
		se.StatusCode = http.StatusBadGateway
	}
	return se
}

// IsForbidden reports whether err is an HTTP 403 from the Discord API.
func IsForbidden(err error) bool {
	return syncerr.StatusCode(err) == http.StatusForbidden
}
