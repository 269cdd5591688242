package thalml

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/thalcare-ai/platform/pkg/alerts"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/features"
	"github.com/thalcare-ai/platform/pkg/training"
)

type alertsResponse struct {
	GeneratedAt string           `json:"generated_at"`
	Summary     alerts.Summary   `json:"summary"`
	Urgent      []alerts.Alert   `json:"urgent"`
	Soon        []alerts.Alert   `json:"soon"`
	Stable      []alerts.Alert   `json:"stable"`
	Alerts      []alerts.Alert   `json:"alerts"`
	Failures    []alerts.Failure `json:"failures"`
}

func newAlertsResponse(b alerts.Batch) alertsResponse {
	return alertsResponse{
		GeneratedAt: b.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
		Summary:     b.Summary,
		Urgent:      b.ByUrgency(models.UrgencyUrgent),
		Soon:        b.ByUrgency(models.UrgencySoon),
		Stable:      b.ByUrgency(models.UrgencyStable),
		Alerts:      b.Alerts,
		Failures:    b.Failures,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, training.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, features.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, features.ErrPatientNotFound), errors.Is(err, training.ErrDonorNotFound):
		return http.StatusNotFound
	case errors.Is(err, training.ErrInvalidBloodType), errors.Is(err, training.ErrInvalidTransfusion):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}
