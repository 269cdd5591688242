package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWritePrometheus(t *testing.T) {
	ObserveTraining(true, 640)
	ObserveBatch(2, 3, 4, 1)
	ObservePrediction(true)

	rec := httptest.NewRecorder()
	WritePrometheus(rec)
	body := rec.Body.String()

	for _, want := range []string{
		"thal_training_samples 640\n",
		"thal_model_ready 1\n",
		"thal_alert_batch_urgent 2\n",
		"thal_alert_batch_failed 1\n",
		"# TYPE thal_predictions_served_total counter\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %s", ct)
	}
}
