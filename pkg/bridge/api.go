// Copyright 2024-2026 Aiku AI

package bridge

import (
	"io"
	"net/http"
	"time"

	"github.com/aiku/chatsync/pkg/cdc"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/aiku/chatsync/pkg/syncerr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/requestlog"
)

// maxBatchBodySize is the maximum accepted change batch (8 MB).
const maxBatchBodySize = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Providers []string         `json:"providers"`
	Listeners []ListenerStatus `json:"listeners"`
	Uptime    string           `json:"uptime,omitempty"`
}

// AdminHandler returns the admin HTTP API:
//
//	POST /api/connections/{id}/sync  run a catch-up for one connection
//	POST /api/cdc                    replay a change batch
//	GET  /api/health                 report providers and listeners
func (b *Bridge) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connections/{id}/sync", b.handleSyncConnection)
	mux.HandleFunc("POST /api/cdc", b.handleCDC)
	mux.HandleFunc("GET /api/health", b.handleHealth)

	log := b.Log.With().Str("component", "admin_api").Logger()
	access := requestlog.AccessLogger(requestlog.Options{Recover: true})
	return hlog.NewHandler(log)(access(mux))
}

func (b *Bridge) handleSyncConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := b.CatchUp(r.Context(), id)
	switch {
	case syncerr.IsNotFound(err):
		exhttp.WriteJSONResponse(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		hlog.FromRequest(r).Err(err).Str("connection_id", id).Msg("Catch-up failed")
		exhttp.WriteJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		exhttp.WriteJSONResponse(w, http.StatusOK, res)
	}
}

func (b *Bridge) handleCDC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		exhttp.WriteJSONResponse(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	events, err := cdc.ParseBatch(body)
	if err != nil {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	log := hlog.FromRequest(r)
	log.Info().Int("events", len(events)).Msg("Processing change batch")
	ctx := store.WithSystemActor(log.WithContext(r.Context()), "cdc")
	exhttp.WriteJSONResponse(w, http.StatusOK, b.CDC.Process(ctx, events))
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Providers: b.Providers.Names(),
		Listeners: b.Listeners(),
	}
	if !b.started.IsZero() {
		resp.Uptime = time.Since(b.started).Round(time.Second).String()
	}
	for _, l := range resp.Listeners {
		if !l.Running {
			resp.Status = "degraded"
		}
	}
	if err := b.Store.DB.RawDB.PingContext(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Database ping failed")
		resp.Status = "unavailable"
		exhttp.WriteJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}
