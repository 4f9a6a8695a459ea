// Package server exposes built rules packages over a read-only JSON API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/rules"
	"github.com/sells-group/taxrules/internal/store"
)

// Options configures the API.
type Options struct {
	CurrentWindow  int      // prior tax years kept by /v1/current; negative = rules.DefaultCurrentWindow
	AllowedOrigins []string // CORS origins; empty allows any
}

type api struct {
	store  store.Store
	window int
	now    func() time.Time
}

// NewHandler builds the router.
func NewHandler(st store.Store, opts Options) http.Handler {
	return newHandler(st, opts, time.Now)
}

func newHandler(st store.Store, opts Options, now func() time.Time) http.Handler {
	a := &api{store: st, window: opts.CurrentWindow, now: now}
	if a.window < 0 {
		a.window = rules.DefaultCurrentWindow
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/packages", a.listPackages)
		r.Get("/packages/{packageID}", a.getPackage)
		r.Get("/current", a.current)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listPackages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pkgs, err := a.store.Packages(r.Context(), filter)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, packageList(pkgs))
}

func (a *api) getPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "packageID")
	pkg, err := a.store.Package(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "package not found: "+id)
		return
	}
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (a *api) current(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pkgs, err := a.store.Current(r.Context(), a.now(), a.window)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	out := make([]rules.RulesPackage, 0, len(pkgs))
	for _, p := range pkgs {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().With(zap.String("component", "server")).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseFilter(r *http.Request) (store.PackageFilter, error) {
	q := r.URL.Query()
	f := store.PackageFilter{
		JurisdictionCode: strings.ToUpper(strings.TrimSpace(q.Get("jurisdiction"))),
	}
	if y := strings.TrimSpace(q.Get("year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil || year <= 0 {
			return f, eris.Errorf("invalid year: %s", y)
		}
		f.TaxYear = year
	}
	return f, nil
}

func packageList(pkgs []rules.RulesPackage) []rules.RulesPackage {
	if pkgs == nil {
		return []rules.RulesPackage{}
	}
	return pkgs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("request",
			zap.String("component", "server"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
