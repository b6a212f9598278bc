package dentalcase

import (
	"time"
)

type CaseStatus string

const (
	StatusReceived             CaseStatus = "RECEIVED"
	StatusUnderReview          CaseStatus = "UNDER_REVIEW"
	StatusSentToStudents       CaseStatus = "SENT_TO_STUDENTS"
	StatusWaitingAdminApproval CaseStatus = "WAITING_ADMIN_APPROVAL"
	StatusApprovedForTreatment CaseStatus = "APPROVED_FOR_TREATMENT"
	StatusContactedPatient     CaseStatus = "CONTACTED_PATIENT"
	StatusInTreatment          CaseStatus = "IN_TREATMENT"
	StatusCompleted            CaseStatus = "COMPLETED"
	StatusCancelled            CaseStatus = "CANCELLED"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusUnderReview, StatusSentToStudents,
		StatusWaitingAdminApproval, StatusApprovedForTreatment,
		StatusContactedPatient, StatusInTreatment, StatusCompleted,
		StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses cannot be left, not even for CANCELLED.
func (s CaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// forward holds the legal non-cancel transitions. Claim and approval
// transitions appear here too so admin status overrides stay inside
// the same graph the coordinator walks.
var forward = map[CaseStatus][]CaseStatus{
	StatusReceived:             {StatusUnderReview, StatusSentToStudents},
	StatusUnderReview:          {StatusSentToStudents},
	StatusSentToStudents:       {StatusWaitingAdminApproval, StatusApprovedForTreatment},
	StatusWaitingAdminApproval: {StatusApprovedForTreatment, StatusSentToStudents},
	StatusApprovedForTreatment: {StatusContactedPatient},
	StatusContactedPatient:     {StatusInTreatment},
	StatusInTreatment:          {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
// CANCELLED is reachable from every non-terminal status.
func CanTransition(from, to CaseStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StudentStatus string

const (
	StudentPending  StudentStatus = "PENDING"
	StudentApproved StudentStatus = "APPROVED"
	StudentRejected StudentStatus = "REJECTED"
)

func (s StudentStatus) Valid() bool {
	return s == StudentPending || s == StudentApproved || s == StudentRejected
}

// Case is a patient treatment request. Phone, medical history and
// medical notes are sensitive: they leave the store only toward the
// confirmed assignee and the admin.
type Case struct {
	ID                     string
	FullName               string
	Phone                  string
	Age                    int
	Gender                 string
	District               string
	Problems               []string
	MedicalHistory         []string
	MedicalNotes           string
	MedicalHistoryDeclared bool
	AdditionalNotes        string
	Status                 CaseStatus
	AssignedStudentID      *string
	ClaimToken             *string
	BroadcastChatID        *int64
	BroadcastMessageID     *int64
	SubmittedAt            time.Time
	UpdatedAt              time.Time
}

// Preview is the redacted view handed to students before they claim.
type Preview struct {
	ID       string
	Age      int
	Gender   string
	District string
	Problems []string
}

func (c *Case) Preview() Preview {
	return Preview{
		ID:       c.ID,
		Age:      c.Age,
		Gender:   c.Gender,
		District: c.District,
		Problems: c.Problems,
	}
}

type Student struct {
	ID                string
	FullName          string
	UniversityID      string
	Email             string
	PasswordHash      string
	Status            StudentStatus
	TelegramChatID    *int64
	TermsAccepted     bool
	LiabilityAccepted bool
	ConsentedAt       *time.Time
	RegisteredAt      time.Time
}

// CaseEvent is one row of the append-only status history.
type CaseEvent struct {
	ID        int64
	CaseID    string
	Status    CaseStatus
	Note      string
	CreatedAt time.Time
}
