package models

import (
	"fmt"
	"strings"
)

type BloodType string

const (
	BloodONeg  BloodType = "O-"
	BloodOPos  BloodType = "O+"
	BloodANeg  BloodType = "A-"
	BloodAPos  BloodType = "A+"
	BloodBNeg  BloodType = "B-"
	BloodBPos  BloodType = "B+"
	BloodABNeg BloodType = "AB-"
	BloodABPos BloodType = "AB+"
)

// BloodTypes lists every ABO/RhD group in a fixed order.
var BloodTypes = []BloodType{
	BloodONeg, BloodOPos, BloodANeg, BloodAPos,
	BloodBNeg, BloodBPos, BloodABNeg, BloodABPos,
}

func (b BloodType) Valid() bool {
	return b.Index() >= 0
}

// Index is the position in BloodTypes, or -1.
func (b BloodType) Index() int {
	for i, t := range BloodTypes {
		if t == b {
			return i
		}
	}
	return -1
}

func ParseBloodType(s string) (BloodType, error) {
	candidate := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	if !candidate.Valid() {
		return "", fmt.Errorf("unknown blood type %q", s)
	}
	return candidate, nil
}

type Urgency string

const (
	UrgencyUrgent Urgency = "URGENT"
	UrgencySoon   Urgency = "SOON"
	UrgencyStable Urgency = "STABLE"
)

const (
	UrgentMaxDays = 7
	SoonMaxDays   = 14
)

// UrgencyFor is the single source of the tier thresholds.
func UrgencyFor(predictedDays int) Urgency {
	switch {
	case predictedDays <= UrgentMaxDays:
		return UrgencyUrgent
	case predictedDays <= SoonMaxDays:
		return UrgencySoon
	default:
		return UrgencyStable
	}
}

// Rank orders tiers for review: URGENT first.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyUrgent:
		return 0
	case UrgencySoon:
		return 1
	case UrgencyStable:
		return 2
	default:
		return 3
	}
}
