// Package matching ranks eligible blood donors for a thalassemia patient while
// enforcing the no-repeat-donor rule.
package matching

import (
	"math"
	"sort"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
)

const (
	CooldownDays   = 56
	RecencyCapDays = 365
	DefaultTopN    = 5

	donationWeight = 0.4
	recencyWeight  = 0.3
	baselineWeight = 0.3
	flatScore      = 0.5
)

type Candidate struct {
	DonorID               string           `json:"donor_id"`
	BloodType             models.BloodType `json:"blood_type"`
	Score                 float64          `json:"score"`
	TotalDonations        int              `json:"total_donations"`
	LastDonationDate      *time.Time       `json:"last_donation_date,omitempty"`
	DaysSinceLastDonation *int             `json:"days_since_last_donation,omitempty"`
}

type Result struct {
	PatientID      string      `json:"patient_id"`
	EligibleDonors []Candidate `json:"eligible_donors"`
	ExcludedCount  int         `json:"excluded_count"`
}

type Matcher struct {
	exclusions *ExclusionIndex
}

func NewMatcher(exclusions *ExclusionIndex) *Matcher {
	if exclusions == nil {
		exclusions = BuildExclusions(nil)
	}
	return &Matcher{exclusions: exclusions}
}

func (m *Matcher) Exclusions() *ExclusionIndex {
	return m.exclusions
}

// Match filters pool down to eligible donors and returns at most topN of them,
// best first. No eligible donor is a normal, empty result.
func (m *Matcher) Match(patientID string, recipient models.BloodType, pool []models.Donor, topN int, now time.Time) Result {
	if topN <= 0 {
		topN = DefaultTopN
	}
	result := Result{
		PatientID:      patientID,
		EligibleDonors: []Candidate{},
		ExcludedCount:  m.exclusions.Count(patientID),
	}

	var eligible []Candidate
	maxDonations := 0
	for _, d := range pool {
		if m.exclusions.IsExcluded(patientID, d.ID) {
			continue
		}
		if !CanDonate(d.BloodType, recipient) || !d.Available {
			continue
		}
		c := Candidate{
			DonorID:          d.ID,
			BloodType:        d.BloodType,
			TotalDonations:   d.TotalDonations,
			LastDonationDate: d.LastDonationDate,
		}
		if d.LastDonationDate != nil {
			days := int(now.Sub(*d.LastDonationDate).Hours() / 24)
			if days < CooldownDays {
				continue
			}
			c.DaysSinceLastDonation = &days
		}
		if d.TotalDonations > maxDonations {
			maxDonations = d.TotalDonations
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return result
	}

	for i := range eligible {
		eligible[i].Score = score(eligible[i], maxDonations)
	}
	sort.Slice(eligible, func(a, b int) bool {
		if eligible[a].Score != eligible[b].Score {
			return eligible[a].Score > eligible[b].Score
		}
		return eligible[a].DonorID < eligible[b].DonorID
	})
	if len(eligible) > topN {
		eligible = eligible[:topN]
	}
	result.EligibleDonors = eligible
	return result
}

// score weighs donation experience and recovery time. A donor with no recorded
// donation counts as fully recovered.
func score(c Candidate, maxDonations int) float64 {
	if maxDonations <= 0 {
		return flatScore
	}
	recency := float64(RecencyCapDays)
	if c.DaysSinceLastDonation != nil {
		recency = math.Min(math.Max(float64(*c.DaysSinceLastDonation), CooldownDays), RecencyCapDays)
	}
	return donationWeight*(float64(c.TotalDonations)/float64(maxDonations)) +
		recencyWeight*(recency/RecencyCapDays) +
		baselineWeight
}
