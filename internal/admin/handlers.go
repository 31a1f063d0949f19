package admin

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/ratelimit"
	"github.com/goodtune/chatgate/internal/session"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/goodtune/chatgate/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// minPrefixLength is the shortest session prefix accepted for termination
const minPrefixLength = 8

// Handler serves the operator API under /api/admin
type Handler struct {
	store   storage.Store
	manager *session.Manager
	ledger  *usage.Ledger
	clock   clock.Clock
	token   string
	logger  zerolog.Logger

	limiter        *ratelimit.Limiter
	addressHeaders []string
}

// NewHandler creates the operator API handler
func NewHandler(store storage.Store, manager *session.Manager, ledger *usage.Ledger, clk clock.Clock, token string, logger zerolog.Logger) *Handler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Handler{
		store:   store,
		manager: manager,
		ledger:  ledger,
		clock:   clk,
		token:   token,
		logger:  logger.With().Str("handler", "admin").Logger(),
	}
}

// WithRateLimit makes every operator request draw from limiter, keyed by the
// client address found in addressHeaders.
func (h *Handler) WithRateLimit(limiter *ratelimit.Limiter, addressHeaders []string) *Handler {
	h.limiter = limiter
	h.addressHeaders = addressHeaders
	return h
}

// Mount registers the operator routes on router behind rate limiting, when
// configured, and token authentication
func (h *Handler) Mount(router *mux.Router) {
	api := router.PathPrefix("/api/admin").Subrouter()
	if h.limiter != nil {
		api.Use(RateLimitMiddleware(h.limiter, h.addressHeaders, h.logger))
	}
	api.Use(TokenAuthMiddleware(h.token, h.logger))

	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.TerminateSession).Methods("DELETE")
	api.HandleFunc("/usage", h.ListUsage).Methods("GET")
	api.HandleFunc("/stats", h.Stats).Methods("GET")
	api.HandleFunc("/sweep", h.Sweep).Methods("POST")
}

// ListSessions returns every stored session with redacted ids
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			SessionPrefix:  storage.Redact(s.ID),
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
			ClientAgent:    s.ClientAgent,
		})
	}

	writeJSON(w, http.StatusOK, SessionList{Sessions: views, Total: len(views)})
}

// ListUsage returns usage for every session as of today
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Usage().List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list usage")
		writeError(w, http.StatusInternalServerError, "Failed to list usage")
		return
	}

	today := h.ledger.Today(h.clock.Now())
	views := make([]UsageView, 0, len(records))
	for _, rec := range records {
		// Stale records read as unused; they are reset on the session's next request
		if rec.LastResetDate != today {
			rec.SecondsUsedToday = 0
		}
		views = append(views, UsageView{
			SessionPrefix:    storage.Redact(rec.SessionID),
			SecondsUsedToday: rec.SecondsUsedToday,
			RemainingSeconds: h.ledger.Remaining(rec),
			LastResetDate:    rec.LastResetDate,
		})
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].SecondsUsedToday > views[j].SecondsUsedToday
	})

	writeJSON(w, http.StatusOK, UsageList{
		Usage:             views,
		DailyLimitSeconds: h.ledger.LimitSeconds(),
		Day:               today,
	})
}

// TerminateSession removes a session by full token or unique prefix
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	if len(ref) < minPrefixLength {
		writeError(w, http.StatusBadRequest, "Session reference is too short")
		return
	}

	id, err := h.resolve(r, ref)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, errAmbiguous):
			writeError(w, http.StatusConflict, "Session prefix matches more than one session")
		default:
			h.logger.Error().Err(err).Msg("Failed to resolve session")
			writeError(w, http.StatusInternalServerError, "Failed to resolve session")
		}
		return
	}

	if err := h.manager.Terminate(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to terminate session")
		writeError(w, http.StatusInternalServerError, "Failed to terminate session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

var errAmbiguous = errors.New("ambiguous session prefix")

func (h *Handler) resolve(r *http.Request, ref string) (string, error) {
	sessions, err := h.store.Sessions().List(r.Context())
	if err != nil {
		return "", err
	}

	var match string
	for _, s := range sessions {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", errAmbiguous
			}
			match = s.ID
		}
	}

	if match == "" {
		return "", storage.ErrNotFound
	}
	return match, nil
}

// Stats returns live counts from storage
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.Sessions().Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count sessions")
		writeError(w, http.StatusInternalServerError, "Failed to count sessions")
		return
	}

	tracked, err := h.store.RateWindows().Len(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count rate windows")
		writeError(w, http.StatusInternalServerError, "Failed to count rate windows")
		return
	}

	writeJSON(w, http.StatusOK, Stats{ActiveSessions: active, TrackedAddresses: tracked})
}

// Sweep removes expired sessions immediately
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	removed, err := h.manager.Sweep(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual sweep failed")
		writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	h.logger.Info().Int("removed", removed).Msg("Manual sweep completed")
	writeJSON(w, http.StatusOK, SweepResult{Removed: removed})
}
