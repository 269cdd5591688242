package matching

import (
	"sort"

	"github.com/thalcare-ai/platform/pkg/common/models"
)

// ExclusionIndex maps a patient to every donor who has ever transfused them.
// Those donors are barred from future matches for that patient for good.
// It is immutable; rebuild it whenever the event history changes.
type ExclusionIndex struct {
	byPatient map[string]map[string]struct{}
}

func BuildExclusions(events []models.TransfusionEvent) *ExclusionIndex {
	idx := &ExclusionIndex{byPatient: make(map[string]map[string]struct{})}
	for _, ev := range events {
		idx.add(ev.PatientID, ev.DonorID)
	}
	return idx
}

// Merge returns a new index holding the union of both; exclusions never shrink.
func (x *ExclusionIndex) Merge(extra map[string][]string) *ExclusionIndex {
	out := &ExclusionIndex{byPatient: make(map[string]map[string]struct{})}
	if x != nil {
		for pid, donors := range x.byPatient {
			for did := range donors {
				out.add(pid, did)
			}
		}
	}
	for pid, donors := range extra {
		for _, did := range donors {
			out.add(pid, did)
		}
	}
	return out
}

func (x *ExclusionIndex) add(patientID, donorID string) {
	if patientID == "" || donorID == "" {
		return
	}
	set, ok := x.byPatient[patientID]
	if !ok {
		set = make(map[string]struct{})
		x.byPatient[patientID] = set
	}
	set[donorID] = struct{}{}
}

func (x *ExclusionIndex) IsExcluded(patientID, donorID string) bool {
	if x == nil {
		return false
	}
	_, ok := x.byPatient[patientID][donorID]
	return ok
}

func (x *ExclusionIndex) Count(patientID string) int {
	if x == nil {
		return 0
	}
	return len(x.byPatient[patientID])
}

// Excluded returns the patient's barred donors in ascending order.
func (x *ExclusionIndex) Excluded(patientID string) []string {
	if x == nil {
		return nil
	}
	out := make([]string, 0, len(x.byPatient[patientID]))
	for did := range x.byPatient[patientID] {
		out = append(out, did)
	}
	sort.Strings(out)
	return out
}

// Export flattens the index for persistence.
func (x *ExclusionIndex) Export() map[string][]string {
	out := make(map[string][]string, len(x.byPatient))
	for pid := range x.byPatient {
		out[pid] = x.Excluded(pid)
	}
	return out
}
