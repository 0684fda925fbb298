package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trueup-cli/internal/anomaly"
	"github.com/sells-group/trueup-cli/internal/batch"
	"github.com/sells-group/trueup-cli/internal/engine"
	"github.com/sells-group/trueup-cli/internal/gate"
	"github.com/sells-group/trueup-cli/internal/model"
	"github.com/sells-group/trueup-cli/internal/rules"
	"github.com/sells-group/trueup-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review and computation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter wires the review and computation API.
func newRouter(env *env) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/mapping", func(api chi.Router) {
		api.Get("/pending", func(w http.ResponseWriter, req *http.Request) {
			scope := model.Scope(req.URL.Query().Get("scope"))
			year := req.URL.Query().Get("year")
			pending, err := env.gate.Pending(req.Context(), scope, year)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, pending)
		})

		api.Post("/submit", func(w http.ResponseWriter, req *http.Request) {
			var sub gate.Submission
			if err := json.NewDecoder(req.Body).Decode(&sub); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			sg, err := env.gate.Submit(req.Context(), sub)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, sg)
		})

		api.Post("/decide", func(w http.ResponseWriter, req *http.Request) {
			var dr gate.DecisionRequest
			if err := json.NewDecoder(req.Body).Decode(&dr); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			sg, err := env.gate.Decide(req.Context(), dr)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sg)
		})

		api.Get("/decisions/{id}", func(w http.ResponseWriter, req *http.Request) {
			entries, err := env.gate.Decisions(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
	})

	r.Post("/petitions/compute", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Scope      model.Scope `json:"scope"`
			FiscalYear string      `json:"fiscal_year"`
			Score      *bool       `json:"score,omitempty"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		eng, err := env.engineFor(body.FiscalYear)
		if err != nil {
			writeError(w, err)
			return
		}
		inputs, err := env.store.ListVerifiedInputs(req.Context(), body.Scope, body.FiscalYear)
		if err != nil {
			writeError(w, err)
			return
		}
		baselines, err := loadBaselines(req.Context(), env.store, inputs)
		if err != nil {
			writeError(w, err)
			return
		}

		proc := &batch.Processor{
			Engine:      eng,
			Emitter:     env.emitter,
			Concurrency: cfg.Batch.Concurrency,
		}
		if body.Score == nil || *body.Score {
			proc.Scorer = anomaly.NewScorer(cfg.Anomaly.Threshold, cfg.Anomaly.MinSamples)
		}

		report, err := proc.ProcessPetition(req.Context(), inputs, baselines)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Route("/audit", func(api chi.Router) {
		api.Get("/records", func(w http.ResponseWriter, req *http.Request) {
			fromSeq, _ := strconv.ParseInt(req.URL.Query().Get("from_seq"), 10, 64)
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			if limit <= 0 {
				limit = 100
			}
			records, err := env.emitter.Records(req.Context(), fromSeq, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
		})

		api.Get("/records/{id}", func(w http.ResponseWriter, req *http.Request) {
			rec, err := env.store.GetAuditRecord(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		api.Get("/verify", func(w http.ResponseWriter, req *http.Request) {
			checked, corrupted, err := env.emitter.VerifyAll(req.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"checked":   checked,
				"corrupted": corrupted,
				"ok":        len(corrupted) == 0,
			})
		})

		api.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
			scope := model.Scope(req.URL.Query().Get("scope"))
			year := req.URL.Query().Get("year")
			totals, err := env.emitter.Summary(req.Context(), scope, year)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, totals)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unrecognized
// errors stay opaque 500s; the wrapped detail goes to the log, not the wire.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, gate.ErrInvalidTransition):
		status = http.StatusConflict
	case eris.Is(err, gate.ErrMissingComment),
		eris.Is(err, gate.ErrMissingOverride),
		eris.Is(err, gate.ErrMissingActor),
		eris.Is(err, engine.ErrNotVerified):
		status = http.StatusUnprocessableEntity
	case eris.Is(err, gate.ErrInvalidDecision),
		eris.Is(err, gate.ErrInvalidConfidence),
		eris.Is(err, rules.ErrNoRuleSet),
		eris.Is(err, model.ErrUnknownHead),
		eris.Is(err, model.ErrUnknownClass),
		eris.Is(err, model.ErrUnknownScope),
		eris.Is(err, model.ErrNegativeAmount):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": eris.ToString(err, false)})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
