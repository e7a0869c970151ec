package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// In distributed mode remote workers publish their results to
		// the completions queue; consume it so they re-enter the engine.
		if env.Broker != nil {
			go func() {
				if err := worker.RunCompletionConsumer(ctx, env.Broker, env.Engine); err != nil {
					zap.L().Error("completion consumer failed", zap.Error(err))
				}
			}()
		}

		api := &apiServer{env: env}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.routes(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  time.Minute,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	env *pipelineEnv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/start", s.startJob)
				r.Post("/cancel", s.cancelJob)
				r.Post("/leads/delete", s.deleteLeads)

				r.Route("/steps/{stepNumber}", func(r chi.Router) {
					r.Get("/leads", s.listStepLeads)
					r.Post("/pass", s.passLeads)
					r.Post("/retry", s.retryLeads)
					r.Post("/extract", s.triggerExtraction)
				})
			})
		})

		r.Post("/completions", s.handleCompletion)
		r.Post("/conversions", s.handleConversion)
	})

	return r
}

func (s *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	var params engine.JobParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.env.Engine.CreateJob(r.Context(), params, s.env.Catalog.For(params.Platform))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status:   model.JobStatus(q.Get("status")),
		Platform: q.Get("platform"),
		Limit:    intParam(q.Get("limit"), 50),
		Offset:   intParam(q.Get("offset"), 0),
	}

	jobs, err := s.env.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *apiServer) getJob(w http.ResponseWriter, r *http.Request) {
	jws, err := s.env.Engine.GetJobWithStats(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jws)
}

func (s *apiServer) startJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.env.Engine.StartJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.env.Engine.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) listStepLeads(w http.ResponseWriter, r *http.Request) {
	stepNumber, err := strconv.Atoi(chi.URLParam(r, "stepNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step number")
		return
	}

	q := r.URL.Query()
	filter := store.LeadFilter{
		Limit:  intParam(q.Get("limit"), 100),
		Offset: intParam(q.Get("offset"), 0),
	}
	if v := q.Get("duplicates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid duplicates filter")
			return
		}
		filter.Duplicates = &b
	}

	views, err := s.env.Engine.ListStepLeads(r.Context(), chi.URLParam(r, "jobID"),
		stepNumber, model.LeadStatus(q.Get("status")), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": views})
}

// leadSelection is the request body shared by the bulk operations.
type leadSelection struct {
	LeadIDs []string `json:"lead_ids"`
}

func (s *apiServer) passLeads(w http.ResponseWriter, r *http.Request) {
	jobID, stepNumber, sel, ok := s.bulkRequest(w, r, true)
	if !ok {
		return
	}
	res, err := s.env.Engine.PassToNext(r.Context(), jobID, stepNumber, sel.LeadIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) retryLeads(w http.ResponseWriter, r *http.Request) {
	jobID, stepNumber, sel, ok := s.bulkRequest(w, r, true)
	if !ok {
		return
	}
	res, err := s.env.Engine.RetryFailed(r.Context(), jobID, stepNumber, sel.LeadIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) triggerExtraction(w http.ResponseWriter, r *http.Request) {
	jobID, stepNumber, sel, ok := s.bulkRequest(w, r, false)
	if !ok {
		return
	}
	ack, err := s.env.Engine.TriggerExtraction(r.Context(), jobID, stepNumber, sel.LeadIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *apiServer) deleteLeads(w http.ResponseWriter, r *http.Request) {
	var sel leadSelection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil || len(sel.LeadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "lead_ids is required")
		return
	}
	res, err := s.env.Engine.DeleteLeads(r.Context(), chi.URLParam(r, "jobID"), sel.LeadIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCompletion accepts a worker's per-lead extraction result. It is
// the HTTP alternative to the completions queue for workers that report
// over webhooks.
func (s *apiServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var ev engine.CompletionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.JobID == "" || ev.LeadID == "" {
		writeError(w, http.StatusBadRequest, "job_id and lead_id are required")
		return
	}

	if err := s.env.Engine.HandleCompletion(r.Context(), ev); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *apiServer) handleConversion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeadID       string `json:"lead_id"`
		RestaurantID string `json:"restaurant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LeadID == "" || req.RestaurantID == "" {
		writeError(w, http.StatusBadRequest, "lead_id and restaurant_id are required")
		return
	}

	lead, err := s.env.Engine.MarkConverted(r.Context(), req.LeadID, req.RestaurantID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// bulkRequest parses the job id, step number, and lead selection shared
// by the step-scoped bulk endpoints.
func (s *apiServer) bulkRequest(w http.ResponseWriter, r *http.Request, requireLeads bool) (string, int, leadSelection, bool) {
	jobID := chi.URLParam(r, "jobID")
	stepNumber, err := strconv.Atoi(chi.URLParam(r, "stepNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid step number")
		return "", 0, leadSelection{}, false
	}

	var sel leadSelection
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return "", 0, leadSelection{}, false
		}
	}
	if requireLeads && len(sel.LeadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "lead_ids is required")
		return "", 0, leadSelection{}, false
	}
	return jobID, stepNumber, sel, true
}

// writeEngineError maps engine errors onto HTTP statuses. Rejected bulk
// operations carry the per-lead rejection reasons in the body.
func writeEngineError(w http.ResponseWriter, err error) {
	var ineligible *engine.IneligibleLeadError
	if errors.As(err, &ineligible) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      ineligible.Error(),
			"op":         ineligible.Op,
			"selected":   ineligible.Selected,
			"rejections": ineligible.Rejections,
		})
		return
	}

	var concurrent *engine.StepConcurrencyError
	if errors.As(err, &concurrent) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    concurrent.Error(),
			"lead_ids": concurrent.LeadIDs,
		})
		return
	}

	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, eris.Cause(err).Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
