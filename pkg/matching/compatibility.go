package matching

import "github.com/thalcare-ai/platform/pkg/common/models"

// compatible[donor][recipient], indexed in models.BloodTypes order:
// O-, O+, A-, A+, B-, B+, AB-, AB+.
var compatible = [8][8]bool{
	/* O-  */ {true, true, true, true, true, true, true, true},
	/* O+  */ {false, true, false, true, false, true, false, true},
	/* A-  */ {false, false, true, true, false, false, true, true},
	/* A+  */ {false, false, false, true, false, false, false, true},
	/* B-  */ {false, false, false, false, true, true, true, true},
	/* B+  */ {false, false, false, false, false, true, false, true},
	/* AB- */ {false, false, false, false, false, false, true, true},
	/* AB+ */ {false, false, false, false, false, false, false, true},
}

// CanDonate reports whether red cells from donor may go to recipient.
func CanDonate(donor, recipient models.BloodType) bool {
	d, r := donor.Index(), recipient.Index()
	if d < 0 || r < 0 {
		return false
	}
	return compatible[d][r]
}

// DonorTypesFor lists the donor groups a recipient can receive from.
func DonorTypesFor(recipient models.BloodType) []models.BloodType {
	var out []models.BloodType
	for _, d := range models.BloodTypes {
		if CanDonate(d, recipient) {
			out = append(out, d)
		}
	}
	return out
}
