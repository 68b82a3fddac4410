package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raterudder/wattwindow/pkg/feed"
	"github.com/raterudder/wattwindow/pkg/ingest"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/metrics"
	"github.com/raterudder/wattwindow/pkg/notify"
	"github.com/raterudder/wattwindow/pkg/pricing"
	"github.com/raterudder/wattwindow/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// ingester runs an ingestion cycle for a zone and trading day.
type ingester interface {
	Ingest(ctx context.Context, zone feed.Zone, day time.Time) (ingest.Result, error)
}

// Server handles the HTTP API of the kiosk pricing backend.
type Server struct {
	storage  storage.Database
	ingester ingester
	engine   *pricing.Engine
	cfg      pricing.Config
	now      func() time.Time

	listenAddr string
	httpServer *http.Server
	serverName string

	ingestVerifier    tokenVerifier
	ingestEmails      []string
	lazyIngestTimeout time.Duration
	defaultWeeksBack  int

	lazyIngests        singleflight.Group
	lazyMu             sync.Mutex
	lazyLast           map[string]time.Time
	lazyIngestInterval time.Duration
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(adapter *feed.Adapter, s storage.Database, cfg *pricing.Config, pub notify.Publisher) *Server {
	srv := &Server{
		storage:    s,
		now:        time.Now,
		serverName: "wattwindow",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	ingestAudience := lflag.String("ingest-audience", "", "OIDC audience required on /api/ingest bearer tokens, empty disables the check")
	ingestIssuer := lflag.String("ingest-issuer", "https://accounts.google.com", "OIDC issuer for /api/ingest bearer tokens")
	ingestEmails := lflag.String("ingest-emails", "", "comma-delimited list of token emails allowed to call /api/ingest, empty allows any verified token")
	lazyIngestTimeout := lflag.Duration("lazy-ingest-timeout", 2*time.Minute, "Timeout for ingestions triggered by recommendation requests")
	lazyIngestInterval := lflag.Duration("lazy-ingest-interval", 5*time.Minute, "Minimum time between ingestions triggered by recommendation requests for the same zone and day")
	historyLookback := lflag.Duration("historical-lookback", 4*7*24*time.Hour, "Default history used for historical averages when weeks_back isn't given, rounded down to whole weeks")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.lazyIngestTimeout = *lazyIngestTimeout
		srv.lazyIngestInterval = *lazyIngestInterval
		srv.cfg = *cfg
		srv.engine = pricing.NewEngine(srv.cfg)
		srv.ingester = ingest.New(adapter, s, srv.cfg, pub)

		srv.defaultWeeksBack = int(*historyLookback / (7 * 24 * time.Hour))
		if srv.defaultWeeksBack <= 0 {
			panic(fmt.Sprintf("invalid historical-lookback (%s): must be at least 168h", *historyLookback))
		}

		if *ingestAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *ingestIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *ingestIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.ingestVerifier = provider.Verifier(&oidc.Config{ClientID: *ingestAudience}).Verify
		}
		if *ingestEmails != "" {
			for _, email := range strings.Split(*ingestEmails, ",") {
				srv.ingestEmails = append(srv.ingestEmails, strings.TrimSpace(email))
			}
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	metrics.Init()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/recommend", s.handleRecommend)
	apiMux.HandleFunc("POST /api/recommend", s.handleRecommend)
	apiMux.HandleFunc("POST /api/ingest", s.handleIngest)
	apiMux.HandleFunc("GET /api/historical_averages", s.handleHistoricalAverages)
	apiMux.HandleFunc("POST /api/historical_averages", s.handleHistoricalAverages)
	apiMux.HandleFunc("GET /api/appliances", s.handleAppliances)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.requestLogMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// requestParams are read from the query string and, for POST requests, a
// JSON body whose non-empty fields take precedence.
type requestParams struct {
	Zone      string `json:"zone"`
	Appliance string `json:"appliance"`
	Date      string `json:"date"`
	// WeeksBack is 0 when not given.
	WeeksBack int `json:"weeks_back"`
}

func parseParams(r *http.Request) (requestParams, error) {
	q := r.URL.Query()
	p := requestParams{
		Zone:      q.Get("zone"),
		Appliance: q.Get("appliance"),
		Date:      q.Get("date"),
	}
	if wb := q.Get("weeks_back"); wb != "" {
		n, err := strconv.Atoi(wb)
		if err != nil {
			return p, fmt.Errorf("invalid weeks_back: %s", wb)
		}
		p.WeeksBack = n
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return p, nil
	}

	var body requestParams
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return p, fmt.Errorf("invalid request body: %w", err)
	}
	if body.Zone != "" {
		p.Zone = body.Zone
	}
	if body.Appliance != "" {
		p.Appliance = body.Appliance
	}
	if body.Date != "" {
		p.Date = body.Date
	}
	if body.WeeksBack != 0 {
		p.WeeksBack = body.WeeksBack
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleAppliances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Appliances      []pricing.ApplianceProfile `json:"appliances"`
		DefaultDuration int                        `json:"defaultDuration"`
	}{
		Appliances:      s.cfg.Appliances(),
		DefaultDuration: s.cfg.DefaultApplianceMinutes(),
	})
}
