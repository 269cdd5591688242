package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	predictionsServed   atomic.Int64
	predictionsFailed   atomic.Int64
	matchesServed       atomic.Int64
	transfusionsLogged  atomic.Int64
	trainingRuns        atomic.Int64
	trainingFailures    atomic.Int64
	lastTrainingSamples atomic.Int64
	lastBatchUrgent     atomic.Int64
	lastBatchSoon       atomic.Int64
	lastBatchStable     atomic.Int64
	lastBatchFailed     atomic.Int64
	modelReady          atomic.Int64
)

func ObservePrediction(ok bool) {
	if ok {
		predictionsServed.Add(1)
		return
	}
	predictionsFailed.Add(1)
}

func ObserveMatch() { matchesServed.Add(1) }

func ObserveTransfusion() { transfusionsLogged.Add(1) }

func ObserveTraining(ok bool, samples int) {
	trainingRuns.Add(1)
	if !ok {
		trainingFailures.Add(1)
		return
	}
	lastTrainingSamples.Store(int64(samples))
	modelReady.Store(1)
}

func ObserveBatch(urgent, soon, stable, failed int) {
	lastBatchUrgent.Store(int64(urgent))
	lastBatchSoon.Store(int64(soon))
	lastBatchStable.Store(int64(stable))
	lastBatchFailed.Store(int64(failed))
}

func gauge(w http.ResponseWriter, name, kind, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n", name, v)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	gauge(w, "thal_predictions_served_total", "counter", "Timing predictions returned to callers.", predictionsServed.Load())
	gauge(w, "thal_predictions_failed_total", "counter", "Timing predictions that returned an error.", predictionsFailed.Load())
	gauge(w, "thal_donor_matches_total", "counter", "Donor match requests served.", matchesServed.Load())
	gauge(w, "thal_transfusions_recorded_total", "counter", "Transfusion events recorded since start.", transfusionsLogged.Load())
	gauge(w, "thal_training_runs_total", "counter", "Training attempts since start.", trainingRuns.Load())
	gauge(w, "thal_training_failures_total", "counter", "Training attempts that failed.", trainingFailures.Load())
	gauge(w, "thal_training_samples", "gauge", "Feature rows used by the latest successful training run.", lastTrainingSamples.Load())
	gauge(w, "thal_model_ready", "gauge", "1 once a model has been trained or loaded.", modelReady.Load())
	gauge(w, "thal_alert_batch_urgent", "gauge", "URGENT alerts in the latest batch.", lastBatchUrgent.Load())
	gauge(w, "thal_alert_batch_soon", "gauge", "SOON alerts in the latest batch.", lastBatchSoon.Load())
	gauge(w, "thal_alert_batch_stable", "gauge", "STABLE alerts in the latest batch.", lastBatchStable.Load())
	gauge(w, "thal_alert_batch_failed", "gauge", "Patients skipped in the latest batch.", lastBatchFailed.Load())
}

// MarkReady records a model loaded from an artifact rather than trained.
func MarkReady() { modelReady.Store(1) }
