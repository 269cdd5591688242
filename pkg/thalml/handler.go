// Package thalml exposes the transfusion timing and donor matching operations
// over HTTP.
package thalml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/gateway/middleware"
	"github.com/thalcare-ai/platform/pkg/matching"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/observability/metrics"
	"github.com/thalcare-ai/platform/pkg/storage"
	"github.com/thalcare-ai/platform/pkg/synthetic"
	"github.com/thalcare-ai/platform/pkg/training"
)

const (
	Prefix          = "/api/v1/thal/ml"
	maxBodyBytes    = 1 << 20
	maxBatchPatient = 1000
)

// AlertHistory reads archived batch alerts.
type AlertHistory interface {
	History(ctx context.Context, patientID string, limit int) ([]storage.AlertRollup, error)
}

type Options struct {
	// SyntheticRetrain allows POST /train to size a fresh synthetic cohort.
	SyntheticRetrain bool
	SyntheticSeed    int64
	// TrainRateLimit caps training requests per second; zero disables it.
	TrainRateLimit int
	// History serves archived alerts; nil answers with an empty list.
	History AlertHistory
}

type Handler struct {
	manager *training.Manager
	opts    Options
}

func NewHandler(manager *training.Manager, opts Options) *Handler {
	return &Handler{manager: manager, opts: opts}
}

// Router builds the full route table including health and metrics endpoints.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.readiness).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
	h.Register(router.PathPrefix(Prefix).Subrouter())
	return router
}

func (h *Handler) Register(r *mux.Router) {
	r.Use(middleware.BodyLimit(maxBodyBytes))
	r.HandleFunc("/model-info", h.modelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model-metrics", h.modelMetrics).Methods(http.MethodGet)
	r.HandleFunc("/predict", h.predict).Methods(http.MethodPost)
	r.HandleFunc("/match-donors", h.matchDonors).Methods(http.MethodPost)
	r.HandleFunc("/alerts", h.dailyAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/batch", h.batchAlerts).Methods(http.MethodPost)
	r.HandleFunc("/alerts/history", h.alertHistory).Methods(http.MethodGet)
	r.HandleFunc("/patient/{id}/history", h.patientHistory).Methods(http.MethodGet)
	r.HandleFunc("/record-transfusion", h.recordTransfusion).Methods(http.MethodPost)
	r.HandleFunc("/training-runs", h.trainingRuns).Methods(http.MethodGet)

	var train http.Handler = http.HandlerFunc(h.train)
	if h.opts.TrainRateLimit > 0 {
		train = middleware.RateLimit(h.opts.TrainRateLimit, 1)(train)
	}
	r.Handle("/train", train).Methods(http.MethodPost)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) readiness(w http.ResponseWriter, _ *http.Request) {
	if !h.manager.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) modelInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Info())
}

func (h *Handler) modelMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type predictRequest struct {
	PatientID string `json:"patient_id"`
	features.ClinicalParams
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	req := predictRequest{ClinicalParams: features.DefaultClinicalParams()}
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if id := strings.TrimSpace(req.PatientID); id != "" {
		forecast, err := h.manager.PredictForPatient(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, forecast)
		return
	}
	forecast, err := h.manager.PredictFromParams(r.Context(), req.ClinicalParams)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

type matchRequest struct {
	PatientID string `json:"patient_id"`
	BloodType string `json:"blood_type"`
	TopN      int    `json:"top_n"`
}

func (h *Handler) matchDonors(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		writeBadRequest(w, errors.New("patient_id is required"))
		return
	}
	if req.TopN <= 0 {
		req.TopN = matching.DefaultTopN
	}
	report, err := h.manager.MatchDonors(r.Context(), req.PatientID, req.BloodType, req.TopN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) dailyAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	batch, err := h.manager.DailyAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAlertsResponse(batch))
}

func (h *Handler) batchAlerts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientIDs []string `json:"patient_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.PatientIDs) > maxBatchPatient {
		writeBadRequest(w, fmt.Errorf("at most %d patient_ids per batch", maxBatchPatient))
		return
	}
	batch, err := h.manager.RunBatchAlerts(r.Context(), req.PatientIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAlertsResponse(batch))
}

func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rollups := []storage.AlertRollup{}
	if h.opts.History != nil {
		rollups, err = h.opts.History.History(r.Context(), r.URL.Query().Get("patient_id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": rollups, "count": len(rollups)})
}

func (h *Handler) patientHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.manager.PatientHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) recordTransfusion(w http.ResponseWriter, r *http.Request) {
	var payload training.TransfusionPayload
	if err := decode(r, &payload); err != nil {
		writeBadRequest(w, err)
		return
	}
	ev, err := payload.Event()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.manager.RecordTransfusion(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) train(w http.ResponseWriter, r *http.Request) {
	patients, err := queryInt(r, "n_patients")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	donors, err := queryInt(r, "n_donors")
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	var report training.Report
	if patients > 0 || donors > 0 {
		if !h.opts.SyntheticRetrain {
			writeBadRequest(w, errors.New("n_patients and n_donors only apply to the synthetic data source"))
			return
		}
		opts := synthetic.DefaultOptions()
		opts.Seed = h.opts.SyntheticSeed
		if patients > 0 {
			opts.Patients = patients
		}
		if donors > 0 {
			opts.Donors = donors
		}
		if err := opts.Validate(); err != nil {
			writeBadRequest(w, err)
			return
		}
		report, err = h.manager.TrainFrom(r.Context(), synthetic.NewSource(opts))
	} else {
		report, err = h.manager.Train(r.Context())
	}
	if err != nil {
		logger.Log.WithError(err).Error("Retrain request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "trained",
		"message": fmt.Sprintf("Model retrained on %d patients and %d donors", report.Patients, report.Donors),
		"report":  report,
	})
}

func (h *Handler) trainingRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	runs, err := h.manager.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func decode(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}
