package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/schema"
	"github.com/sells-group/quotefill/internal/store"
)

var servePort int

// runner drives one extraction. extract.Engine satisfies it.
type runner interface {
	Run(ctx context.Context, category string, s *model.Schema, doc model.SourceDocument) (*model.Result, error)
}

// feedbackSink records user feedback. extract.Recorder satisfies it.
type feedbackSink interface {
	RecordCorrection(ctx context.Context, fb model.FeedbackRecord) error
	RecordConfirmation(ctx context.Context, fb model.FeedbackRecord, exampleIDs []string) error
	RecordRejection(ctx context.Context, fb model.FeedbackRecord, exampleIDs []string) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env.Engine, env.Recorder, env.Store, cfg.Schemas.Dir)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildRouter(eng runner, sink feedbackSink, st store.Store, schemasDir string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/extract", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Category  string           `json:"category"`
			Variant   string           `json:"variant"`
			Text      string           `json:"text"`
			LineItems []model.LineItem `json:"line_items"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Variant == "" || body.Text == "" {
			httpError(w, http.StatusBadRequest, "variant and text are required")
			return
		}
		if eng == nil {
			httpError(w, http.StatusServiceUnavailable, "extraction engine not configured")
			return
		}

		s, err := schema.Load(filepath.Join(schemasDir, body.Variant+".yaml"))
		if err != nil {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown variant %q", body.Variant))
			return
		}

		result, err := eng.Run(req.Context(), body.Category, s, model.SourceDocument{
			Text:      body.Text,
			LineItems: body.LineItems,
		})
		if err != nil {
			zap.L().Error("extraction request failed",
				zap.String("variant", body.Variant), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "extraction failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Post("/feedback", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Type               model.FeedbackType `json:"type"`
			FieldName          string             `json:"field_name"`
			OriginalPrediction string             `json:"original_prediction"`
			CorrectedValue     string             `json:"corrected_value"`
			Category           string             `json:"category"`
			Variant            string             `json:"variant"`
			Context            string             `json:"context"`
			ExampleID          string             `json:"example_id"`
			ExampleIDs         []string           `json:"example_ids"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.FieldName == "" {
			httpError(w, http.StatusBadRequest, "field_name is required")
			return
		}
		if sink == nil {
			httpError(w, http.StatusServiceUnavailable, "feedback recorder not configured")
			return
		}

		fb := model.FeedbackRecord{
			FieldName:          body.FieldName,
			OriginalPrediction: body.OriginalPrediction,
			CorrectedValue:     body.CorrectedValue,
			Category:           body.Category,
			Variant:            body.Variant,
			Context:            body.Context,
			ExampleID:          body.ExampleID,
		}

		var err error
		switch body.Type {
		case model.FeedbackCorrection:
			err = sink.RecordCorrection(req.Context(), fb)
		case model.FeedbackConfirmation:
			err = sink.RecordConfirmation(req.Context(), fb, body.ExampleIDs)
		case model.FeedbackRejection:
			err = sink.RecordRejection(req.Context(), fb, body.ExampleIDs)
		default:
			httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown feedback type %q", body.Type))
			return
		}
		if err != nil {
			zap.L().Error("feedback request failed",
				zap.String("field", body.FieldName), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "recording feedback failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		if st == nil {
			httpError(w, http.StatusServiceUnavailable, "store not configured")
			return
		}
		stats, err := st.Stats(req.Context())
		if err != nil {
			zap.L().Error("stats request failed", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "stats query failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
