// Package synthetic generates seeded thalassemia cohorts for training and demos.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
)

// population frequencies, same order as models.BloodTypes
var bloodTypeWeights = []float64{0.07, 0.38, 0.06, 0.34, 0.02, 0.09, 0.01, 0.03}

// Cohort caps keep one generation request from exhausting memory.
const (
	MaxPatients = 10000
	MaxDonors   = 50000
)

var ErrInvalidSize = errors.New("invalid synthetic cohort size")

type Options struct {
	Patients int
	Donors   int
	Seed     int64
	// Now anchors every generated date; zero means time.Now().
	Now time.Time
}

func DefaultOptions() Options {
	return Options{Patients: 80, Donors: 300, Seed: 42}
}

func (o Options) Validate() error {
	if o.Patients <= 0 || o.Donors <= 0 {
		return fmt.Errorf("%w: need positive patient and donor counts, got %d/%d", ErrInvalidSize, o.Patients, o.Donors)
	}
	if o.Patients > MaxPatients || o.Donors > MaxDonors {
		return fmt.Errorf("%w: at most %d patients and %d donors, got %d/%d", ErrInvalidSize, MaxPatients, MaxDonors, o.Patients, o.Donors)
	}
	return nil
}

// Source serves a freshly generated snapshot on every Load.
type Source struct {
	opts Options
}

func NewSource(opts Options) *Source {
	return &Source{opts: opts}
}

func (s *Source) Load(ctx context.Context) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}
	if err := s.opts.Validate(); err != nil {
		return models.Snapshot{}, err
	}
	return Generate(s.opts), nil
}

func (s *Source) Name() string {
	return fmt.Sprintf("synthetic(patients=%d,donors=%d,seed=%d)", s.opts.Patients, s.opts.Donors, s.opts.Seed)
}

func Generate(opts Options) models.Snapshot {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(opts.Seed))

	var snap models.Snapshot
	for i := 0; i < opts.Patients; i++ {
		snap.Patients = append(snap.Patients, models.Patient{
			ID:               fmt.Sprintf("PT%04d", i),
			BloodType:        pickBloodType(rng),
			Age:              5 + rng.Intn(35),
			WeightKg:         round1(20 + rng.Float64()*60),
			Splenectomy:      rng.Float64() < 0.4,
			ChelationTherapy: rng.Float64() < 0.8,
			BaselineHb:       round1(6.0 + rng.Float64()*3.0),
		})
	}

	donorIDs := make([]string, opts.Donors)
	for i := 0; i < opts.Donors; i++ {
		last := now.AddDate(0, 0, -rng.Intn(300))
		donorIDs[i] = fmt.Sprintf("DN%04d", i)
		snap.Donors = append(snap.Donors, models.Donor{
			ID:               donorIDs[i],
			BloodType:        pickBloodType(rng),
			Available:        rng.Float64() < 0.7,
			LastDonationDate: &last,
			TotalDonations:   1 + rng.Intn(49),
		})
	}

	for _, p := range snap.Patients {
		count := 10 + rng.Intn(20)
		current := now.AddDate(0, 0, -count*21)
		used := make(map[string]struct{})

		for j := 0; j < count; j++ {
			interval := int(rng.NormFloat64()*4 + 21)
			interval = clampInt(interval, 14, 35)

			donor := pickDonor(rng, donorIDs, used)
			used[donor] = struct{}{}

			hbPre := 6.5 + rng.Float64()*2.0
			hbPost := hbPre + 2.0 + rng.Float64()*1.5
			snap.Transfusions = append(snap.Transfusions, models.TransfusionEvent{
				PatientID:        p.ID,
				DonorID:          donor,
				Date:             current,
				HbPre:            round1(hbPre),
				HbPost:           round1(hbPost),
				Units:            2 + rng.Intn(2),
				ReactionOccurred: rng.Float64() < 0.05,
			})

			readings := 3 + rng.Intn(3)
			for k := 0; k < readings; k++ {
				elapsed := 1 + rng.Intn(interval-2)
				decay := 0.05 + rng.Float64()*0.05
				snap.HbReadings = append(snap.HbReadings, models.HemoglobinReading{
					PatientID: p.ID,
					Date:      current.AddDate(0, 0, elapsed),
					Value:     round1(hbPost - decay*float64(elapsed)),
				})
			}
			current = current.AddDate(0, 0, interval)
		}
	}
	return snap
}

func pickBloodType(rng *rand.Rand) models.BloodType {
	r := rng.Float64()
	var acc float64
	for i, w := range bloodTypeWeights {
		acc += w
		if r < acc {
			return models.BloodTypes[i]
		}
	}
	return models.BloodTypes[len(models.BloodTypes)-1]
}

// pickDonor prefers donors the patient has not received from yet.
func pickDonor(rng *rand.Rand, ids []string, used map[string]struct{}) string {
	if len(used) < len(ids) {
		for {
			candidate := ids[rng.Intn(len(ids))]
			if _, seen := used[candidate]; !seen {
				return candidate
			}
		}
	}
	return ids[rng.Intn(len(ids))]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
