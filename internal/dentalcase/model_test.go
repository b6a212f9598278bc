package dentalcase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from CaseStatus
		to   CaseStatus
		want bool
	}{
		{StatusReceived, StatusUnderReview, true},
		{StatusReceived, StatusSentToStudents, true},
		{StatusUnderReview, StatusSentToStudents, true},
		{StatusSentToStudents, StatusApprovedForTreatment, true},
		{StatusSentToStudents, StatusWaitingAdminApproval, true},
		{StatusWaitingAdminApproval, StatusApprovedForTreatment, true},
		{StatusWaitingAdminApproval, StatusSentToStudents, true},
		{StatusApprovedForTreatment, StatusContactedPatient, true},
		{StatusContactedPatient, StatusInTreatment, true},
		{StatusInTreatment, StatusCompleted, true},

		// CANCELLED is reachable from every non-terminal status.
		{StatusReceived, StatusCancelled, true},
		{StatusSentToStudents, StatusCancelled, true},
		{StatusInTreatment, StatusCancelled, true},

		// No skipping ahead.
		{StatusReceived, StatusApprovedForTreatment, false},
		{StatusSentToStudents, StatusInTreatment, false},
		{StatusApprovedForTreatment, StatusCompleted, false},

		// No going back.
		{StatusInTreatment, StatusContactedPatient, false},
		{StatusApprovedForTreatment, StatusSentToStudents, false},

		// Terminal statuses are final, even toward CANCELLED.
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusInTreatment, false},
		{StatusCancelled, StatusReceived, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestCaseStatusValid(t *testing.T) {
	assert.True(t, StatusReceived.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, CaseStatus("ARCHIVED").Valid())
	assert.False(t, CaseStatus("").Valid())
}

func TestPreviewRedaction(t *testing.T) {
	c := &Case{
		ID:             "CS-1234",
		FullName:       "Mona Hassan",
		Phone:          "+20 100 123 4567",
		Age:            34,
		Gender:         "female",
		District:       "Glim",
		Problems:       []string{"Gum treatment"},
		MedicalHistory: []string{"Hypertension"},
		MedicalNotes:   "on daily medication",
	}

	p := c.Preview()

	assert.Equal(t, "CS-1234", p.ID)
	assert.Equal(t, 34, p.Age)
	assert.Equal(t, "female", p.Gender)
	assert.Equal(t, "Glim", p.District)
	assert.Equal(t, []string{"Gum treatment"}, p.Problems)
}
