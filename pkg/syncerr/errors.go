// Copyright 2024-2026 Aiku AI

// Package syncerr defines the error kinds surfaced by the sync engines.
//
// Policy outcomes such as a missing link or an inactive connection are not
// errors; they are reported as statuses by the engines. Only the kinds below
// reach callers.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a sync failure.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindConfiguration        Kind = "configuration"
	KindProviderAPI          Kind = "provider_api"
	KindProviderNotSupported Kind = "provider_not_supported"
)

// Error implements the error interface so a bare Kind can be used as an
// errors.Is target: errors.Is(err, syncerr.KindNotFound).
func (k Kind) Error() string {
	return string(k)
}

// Error is a classified sync failure.
type Error struct {
	Kind Kind

	// Entity and ID name the missing record for KindNotFound.
	Entity string
	ID     string

	// Provider, StatusCode and Tag describe a failed remote call.
	Provider   string
	StatusCode int
	Tag        string
	// RetryAfter is the provider's requested delay before the next attempt.
	RetryAfter time.Duration

	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
	case KindProviderAPI:
		msg := fmt.Sprintf("%s api error (%s", e.Provider, e.Tag)
		if e.StatusCode != 0 {
			msg += fmt.Sprintf(", HTTP %d", e.StatusCode)
		}
		msg += ")"
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	case KindProviderNotSupported:
		return fmt.Sprintf("provider %q is not supported", e.Provider)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NotFound returns a KindNotFound error for the given entity.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

// Configuration returns a KindConfiguration error.
func Configuration(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// ProviderAPI wraps a failed remote call.
func ProviderAPI(provider, tag string, statusCode int, err error) error {
	return &Error{Kind: KindProviderAPI, Provider: provider, Tag: tag, StatusCode: statusCode, Err: err}
}

// RetryAfter returns the delay requested by the provider, or 0.
func RetryAfter(err error) time.Duration {
	var se *Error
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// ProviderNotSupported is returned by the registry for unknown provider names.
func ProviderNotSupported(provider string) error {
	return &Error{Kind: KindProviderNotSupported, Provider: provider}
}

func IsNotFound(err error) bool      { return errors.Is(err, KindNotFound) }
func IsConfiguration(err error) bool { return errors.Is(err, KindConfiguration) }
func IsProviderAPI(err error) bool   { return errors.Is(err, KindProviderAPI) }

// StatusCode returns the HTTP status carried by a provider error, or 0.
func StatusCode(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Retryable reports whether a remote failure is worth another attempt:
// rate limits, request timeouts and server errors.
func Retryable(err error) bool {
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindProviderAPI {
		return false
	}
	switch code := se.StatusCode; {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500 && code <= 599:
		return true
	default:
		return false
	}
}
