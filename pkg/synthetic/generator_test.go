package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func TestGenerateShape(t *testing.T) {
	snap := Generate(Options{Patients: 6, Donors: 40, Seed: 42, Now: anchor})
	require.NoError(t, snap.Validate())
	assert.Len(t, snap.Patients, 6)
	assert.Len(t, snap.Donors, 40)

	for _, p := range snap.Patients {
		events := snap.TransfusionsFor(p.ID)
		assert.GreaterOrEqual(t, len(events), 10)
		assert.Less(t, len(events), 30)

		donors := map[string]bool{}
		for i, ev := range events {
			assert.False(t, donors[ev.DonorID], "donor %s reused for %s", ev.DonorID, p.ID)
			donors[ev.DonorID] = true
			if i > 0 {
				gap := ev.Date.Sub(events[i-1].Date).Hours() / 24
				assert.GreaterOrEqual(t, gap, 14.0)
				assert.LessOrEqual(t, gap, 35.0)
			}
		}
	}
	for _, d := range snap.Donors {
		require.NotNil(t, d.LastDonationDate)
		assert.False(t, d.LastDonationDate.After(anchor))
		assert.GreaterOrEqual(t, d.TotalDonations, 1)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(Options{Patients: 3, Donors: 20, Seed: 7, Now: anchor})
	b := Generate(Options{Patients: 3, Donors: 20, Seed: 7, Now: anchor})
	assert.Equal(t, a, b)

	c := Generate(Options{Patients: 3, Donors: 20, Seed: 8, Now: anchor})
	assert.NotEqual(t, a.Transfusions, c.Transfusions)
}

func TestSourceValidatesCounts(t *testing.T) {
	_, err := NewSource(Options{Patients: 0, Donors: 10}).Load(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewSource(Options{Patients: MaxPatients + 1, Donors: 10}).Load(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.ErrorIs(t, Options{Patients: 10, Donors: MaxDonors + 1}.Validate(), ErrInvalidSize)
	assert.NoError(t, Options{Patients: MaxPatients, Donors: MaxDonors}.Validate())

	snap, err := NewSource(Options{Patients: 2, Donors: 10, Seed: 1, Now: anchor}).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Patients, 2)
}
