package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/types"
)

type ingestResponse struct {
	Success     bool              `json:"success"`
	Prices      int               `json:"prices"`
	Windows     int               `json:"windows"`
	Percentiles types.Breakpoints `json:"percentiles"`
	DataSource  types.Source      `json:"dataSource"`
	Generation  string            `json:"generation"`
}

// authorizeIngest checks the scheduler's bearer token when an audience is
// configured. It writes the error response and returns false on failure.
func (s *Server) authorizeIngest(w http.ResponseWriter, r *http.Request) bool {
	if s.ingestVerifier == nil {
		return true
	}
	ctx := r.Context()

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
		return false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
		writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
		return false
	}

	idToken, err := s.ingestVerifier(ctx, strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "ingest token validation failed", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return false
	}
	if len(s.ingestEmails) == 0 {
		return true
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid ingest token claims", slog.Any("error", err))
		writeJSONError(w, "invalid token claims", http.StatusForbidden)
		return false
	}
	for _, email := range s.ingestEmails {
		if subtle.ConstantTimeCompare([]byte(claims.Email), []byte(email)) == 1 {
			return true
		}
	}
	log.Ctx(ctx).WarnContext(ctx, "unauthorized email for ingest", slog.String("email", claims.Email))
	writeJSONError(w, "forbidden", http.StatusForbidden)
	return false
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeIngest(w, r) {
		return
	}
	ctx := r.Context()

	params, err := parseParams(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	zone, err := feed.LookupZone(params.Zone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	day := s.now().In(zone.Location)
	if params.Date != "" {
		day, err = time.ParseInLocation(time.DateOnly, params.Date, zone.Location)
		if err != nil {
			writeJSONError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	res, err := s.ingester.Ingest(ctx, zone, day)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "ingestion failed", slog.String("zone", zone.ID), slog.Any("error", err))
		code := http.StatusInternalServerError
		if errors.Is(err, feed.ErrSourceUnavailable) {
			code = http.StatusServiceUnavailable
		}
		writeJSONError(w, err.Error(), code)
		return
	}

	writeJSON(w, ingestResponse{
		Success:     true,
		Prices:      res.Prices,
		Windows:     res.Windows,
		Percentiles: res.Breakpoints,
		DataSource:  res.Source,
		Generation:  res.Generation,
	})
}
