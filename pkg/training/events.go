package training

import (
	"context"
	"fmt"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/kafka"
	"github.com/thalcare-ai/platform/pkg/common/logger"
	"github.com/thalcare-ai/platform/pkg/common/models"
)

// TransfusionPayload is the wire form of a recorded transfusion, shared by the
// HTTP API and the event stream.
type TransfusionPayload struct {
	PatientID        string  `json:"patient_id"`
	DonorID          string  `json:"donor_id"`
	Date             string  `json:"transfusion_date"`
	HbPre            float64 `json:"hb_pre"`
	HbPost           float64 `json:"hb_post"`
	Units            int     `json:"units"`
	ReactionOccurred bool    `json:"reaction_occurred"`
}

// Event converts the payload; an empty date means now.
func (p TransfusionPayload) Event() (models.TransfusionEvent, error) {
	ev := models.TransfusionEvent{
		PatientID:        p.PatientID,
		DonorID:          p.DonorID,
		HbPre:            p.HbPre,
		HbPost:           p.HbPost,
		Units:            p.Units,
		ReactionOccurred: p.ReactionOccurred,
	}
	if p.PatientID == "" || p.DonorID == "" {
		return ev, fmt.Errorf("%w: patient_id and donor_id are required", ErrInvalidTransfusion)
	}
	if p.Date == "" {
		return ev, nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, p.Date); err == nil {
			ev.Date = t.UTC()
			return ev, nil
		}
	}
	return ev, fmt.Errorf("%w: unparseable transfusion_date %q", ErrInvalidTransfusion, p.Date)
}

// HandleEvent consumes transfusion_recorded events from the stream. The
// producer owns persistence, so the event is only applied in memory.
func (m *Manager) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != kafka.EventTransfusionRecorded {
		logger.Log.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Debug("Ignoring event")
		return nil
	}
	var payload TransfusionPayload
	if err := kafka.DecodeData(event, &payload); err != nil {
		return err
	}
	ev, err := payload.Event()
	if err != nil {
		return err
	}
	_, err = m.ApplyTransfusion(ctx, ev)
	return err
}
