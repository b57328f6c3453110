// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"errors"

	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/mattermost/mattermost/server/public/model"
	"go.mau.fi/util/retryafter"
)

// classify converts a Client4 failure into a provider-API error. The HTTP
// status comes from the response when there is one, else from the AppError.
func classify(tag string, resp *model.Response, err error) error {
	if err == nil {
		return nil
	}
	se := &syncerr.Error{Kind: syncerr.KindProviderAPI, Provider: ProviderName, Tag: tag, Err: err}
	if resp != nil {
		se.StatusCode = resp.StatusCode
		if resp.Header != nil {
			se.RetryAfter = retryafter.Parse(resp.Header.Get("Retry-After"), 0)
		}
	}
	var appErr *model.AppError
	if se.StatusCode == 0 && errors.As(err, &appErr) {
		se.StatusCode = appErr.StatusCode
	}
	return se
}
