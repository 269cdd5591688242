package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thalcare-ai/platform/pkg/common/models"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return epoch.AddDate(0, 0, n) }

func patient(id string) models.Patient {
	return models.Patient{
		ID: id, BloodType: models.BloodBPos, Age: 12, WeightKg: 38.5,
		Splenectomy: true, ChelationTherapy: false, BaselineHb: 7.2,
	}
}

func tx(pid string, d int, donor string) models.TransfusionEvent {
	return models.TransfusionEvent{
		PatientID: pid, DonorID: donor, Date: day(d),
		HbPre: 7.0, HbPost: 10.0, Units: 2,
	}
}

func TestGapFilterKeepsOnlyPlausibleGaps(t *testing.T) {
	events := []models.TransfusionEvent{tx("PT1", 0, "D1"), tx("PT1", 3, "D2"), tx("PT1", 43, "D3")}
	rows := PatientRows(patient("PT1"), events, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, 40.0, rows[0].DaysToNext)
	assert.Equal(t, 2.0, rows[0].TxNumber)
}

func TestGapBoundariesAreInclusive(t *testing.T) {
	events := []models.TransfusionEvent{
		tx("PT1", 0, "D1"), tx("PT1", 5, "D2"), tx("PT1", 125, "D3"), tx("PT1", 246, "D4"),
	}
	rows := PatientRows(patient("PT1"), events, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, 5.0, rows[0].DaysToNext)
	assert.Equal(t, 120.0, rows[1].DaysToNext)
}

func TestDecaySlopeUsesReadingsStrictlyInsideWindow(t *testing.T) {
	events := []models.TransfusionEvent{tx("PT1", 0, "D1"), tx("PT1", 21, "D2")}
	readings := []models.HemoglobinReading{
		{PatientID: "PT1", Date: day(0), Value: 99},
		{PatientID: "PT1", Date: day(5), Value: 9.5},
		{PatientID: "PT1", Date: day(10), Value: 9.0},
		{PatientID: "PT1", Date: day(15), Value: 8.5},
		{PatientID: "PT1", Date: day(21), Value: 1},
	}
	rows := PatientRows(patient("PT1"), events, readings)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.InDelta(t, -0.1, r.HbDecayRate, 1e-9)
	assert.InDelta(t, 10.0-1.4, r.ProjectedHb14, 1e-9)
	assert.InDelta(t, 10.0-2.1, r.ProjectedHb21, 1e-9)
}

func TestDecaySlopeFallsBackWithFewReadings(t *testing.T) {
	events := []models.TransfusionEvent{tx("PT1", 0, "D1"), tx("PT1", 21, "D2")}
	readings := []models.HemoglobinReading{{PatientID: "PT1", Date: day(4), Value: 9.7}}
	rows := PatientRows(patient("PT1"), events, readings)
	require.Len(t, rows, 1)
	assert.Equal(t, DefaultHbSlope, rows[0].HbDecayRate)
	assert.InDelta(t, 10.0+DefaultHbSlope*14, rows[0].ProjectedHb14, 1e-9)
}

func TestRollingIntervalStatistics(t *testing.T) {
	events := []models.TransfusionEvent{
		tx("PT1", 0, "D1"), tx("PT1", 20, "D2"), tx("PT1", 42, "D3"), tx("PT1", 66, "D4"), tx("PT1", 90, "D5"),
	}
	rows := PatientRows(patient("PT1"), events, nil)
	require.Len(t, rows, 4)

	first := rows[0]
	assert.Equal(t, DefaultAvgInterval, first.AvgInterval)
	assert.Equal(t, DefaultMinInterval, first.MinInterval)
	assert.Equal(t, DefaultStdInterval, first.StdInterval)
	assert.Equal(t, DefaultPrevGap, first.DaysSincePrevTx)

	// gaps before event 3 are 20, 22, 24
	last := rows[3]
	assert.InDelta(t, 22.0, last.AvgInterval, 1e-9)
	assert.Equal(t, 20.0, last.MinInterval)
	assert.InDelta(t, 1.632993, last.StdInterval, 1e-6)
	assert.Equal(t, 24.0, last.DaysSincePrevTx)
	assert.Equal(t, 24.0, last.DaysToNext)
	assert.Equal(t, float64(day(66).Month()), last.Month)
}

func TestStaticAndEventAttributes(t *testing.T) {
	ev := tx("PT1", 0, "D1")
	ev.HbPre, ev.HbPost, ev.Units, ev.ReactionOccurred = 6.8, 9.9, 3, true
	rows := PatientRows(patient("PT1"), []models.TransfusionEvent{ev, tx("PT1", 20, "D2")}, nil)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, 12.0, r.Age)
	assert.Equal(t, 1.0, r.Splenectomy)
	assert.Equal(t, 0.0, r.ChelationTherapy)
	assert.InDelta(t, 3.1, r.HbRise, 1e-9)
	assert.Equal(t, 3.0, r.Units)
	assert.Equal(t, 1.0, r.Reaction)
	assert.Len(t, r.Vector(), len(Names))
}

func TestLatestErrors(t *testing.T) {
	snap := models.Snapshot{
		Patients:     []models.Patient{patient("PT1"), patient("PT2")},
		Transfusions: []models.TransfusionEvent{tx("PT1", 0, "D1"), tx("PT1", 2, "D2")},
	}
	_, err := Latest(snap, "PT9")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = Latest(snap, "PT1")
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Latest(snap, "PT2")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestLatestReturnsMostRecentRow(t *testing.T) {
	snap := models.Snapshot{
		Patients: []models.Patient{patient("PT1")},
		Transfusions: []models.TransfusionEvent{
			tx("PT1", 40, "D3"), tx("PT1", 0, "D1"), tx("PT1", 20, "D2"),
		},
	}
	row, err := Latest(snap, "PT1")
	require.NoError(t, err)
	assert.Equal(t, day(20), row.EventDate)
	assert.Equal(t, 2.0, row.TxNumber)

	table := Build(snap)
	assert.Len(t, table, 2)
	x, y := table.Matrix()
	assert.Len(t, x, 2)
	assert.Equal(t, []float64{20, 20}, y)
}

func TestFromParamsDefaults(t *testing.T) {
	asOf := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	row := FromParams(DefaultClinicalParams(), asOf)

	assert.Equal(t, 10.0, row.Month)
	assert.InDelta(t, 3.5, row.HbRise, 1e-9)
	assert.Equal(t, DefaultHbSlope, row.HbDecayRate)
	assert.InDelta(t, 10.5-0.98, row.ProjectedHb14, 1e-9)
	assert.InDelta(t, 10.5-1.47, row.ProjectedHb21, 1e-9)
	assert.Equal(t, 18.0, row.DaysSincePrevTx)
	assert.Equal(t, 21.0, row.AvgInterval)
	assert.Equal(t, 18.0, row.MinInterval)
	assert.Equal(t, 2.5, row.StdInterval)
	assert.Equal(t, 2.0, row.Units)
	assert.Equal(t, 10.0, row.TxNumber)
}

func TestFromParamsOverrides(t *testing.T) {
	avg, slope, units := 15.0, -0.2, 4
	p := DefaultClinicalParams()
	p.AvgInterval, p.HbDecayRate, p.Units = &avg, &slope, &units
	row := FromParams(p, epoch)
	assert.Equal(t, 14.0, row.MinInterval)
	assert.InDelta(t, 10.5-4.2, row.ProjectedHb21, 1e-9)
	assert.Equal(t, 4.0, row.Units)
}
