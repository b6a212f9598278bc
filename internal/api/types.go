package api

import (
	"time"

	"github.com/alexdental/case-coordinator/internal/dentalcase"
)

type SubmitCaseRequest struct {
	FullName                  string   `json:"fullName"`
	Phone                     string   `json:"phone"`
	Age                       int      `json:"age"`
	Gender                    string   `json:"gender"`
	District                  string   `json:"district"`
	Problems                  []string `json:"problems"`
	MedicalHistory            []string `json:"medicalHistory"`
	MedicalNotes              string   `json:"medicalNotes"`
	MedicalHistoryDeclared    bool     `json:"isMedicalHistoryDeclared"`
	AdditionalNotes           string   `json:"additionalNotes"`
	TermsAccepted             bool     `json:"termsAccepted"`
	PrivacyAccepted           bool     `json:"privacyAccepted"`
	MedicalDisclaimerAccepted bool     `json:"medicalDisclaimerAccepted"`
}

type CaseIDRequest struct {
	ID string `json:"id"`
}

type UpdateCaseRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ConfirmClaimRequest struct {
	Token string `json:"token"`
}

type RegisterStudentRequest struct {
	FullName          string `json:"fullName"`
	UniversityID      string `json:"universityId"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	TelegramChatID    *int64 `json:"telegramChatId,omitempty"`
	TermsAccepted     bool   `json:"termsAccepted"`
	LiabilityAccepted bool   `json:"liabilityAccepted"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateStudentRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CaseResponse is the full case view for the admin and for the
// assigned student. The claim token and broadcast handle never leave
// the store through any response type.
type CaseResponse struct {
	ID                     string    `json:"id"`
	FullName               string    `json:"fullName"`
	Phone                  string    `json:"phone"`
	Age                    int       `json:"age"`
	Gender                 string    `json:"gender"`
	District               string    `json:"district"`
	Problems               []string  `json:"problems"`
	MedicalHistory         []string  `json:"medicalHistory"`
	MedicalNotes           string    `json:"medicalNotes"`
	MedicalHistoryDeclared bool      `json:"isMedicalHistoryDeclared"`
	AdditionalNotes        string    `json:"additionalNotes"`
	Status                 string    `json:"status"`
	AssignedStudentID      *string   `json:"assignedStudentId"`
	SubmittedAt            time.Time `json:"submissionDate"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

func toCaseResponse(c *dentalcase.Case) CaseResponse {
	return CaseResponse{
		ID:                     c.ID,
		FullName:               c.FullName,
		Phone:                  c.Phone,
		Age:                    c.Age,
		Gender:                 c.Gender,
		District:               c.District,
		Problems:               c.Problems,
		MedicalHistory:         c.MedicalHistory,
		MedicalNotes:           c.MedicalNotes,
		MedicalHistoryDeclared: c.MedicalHistoryDeclared,
		AdditionalNotes:        c.AdditionalNotes,
		Status:                 string(c.Status),
		AssignedStudentID:      c.AssignedStudentID,
		SubmittedAt:            c.SubmittedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

// toPendingCaseResponse withholds the patient's identity and medical
// detail while a gated claim waits for admin approval. The student sees
// the case on their dashboard with its status, but the sensitive
// payload is released only once the admin approves the assignment.
func toPendingCaseResponse(c *dentalcase.Case) CaseResponse {
	r := toCaseResponse(c)
	r.FullName = ""
	r.Phone = ""
	r.MedicalHistory = nil
	r.MedicalNotes = ""
	r.AdditionalNotes = ""
	return r
}

// PreviewResponse is the redacted claim preview: no name, no phone, no
// medical fields.
type PreviewResponse struct {
	ID       string   `json:"id"`
	Age      int      `json:"age"`
	Gender   string   `json:"gender"`
	District string   `json:"district"`
	Problems []string `json:"problems"`
}

type StudentResponse struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	UniversityID string    `json:"universityId"`
	Email        string    `json:"email"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registrationDate"`
}

func toStudentResponse(s *dentalcase.Student) StudentResponse {
	return StudentResponse{
		ID:           s.ID,
		FullName:     s.FullName,
		UniversityID: s.UniversityID,
		Email:        s.Email,
		Status:       string(s.Status),
		RegisteredAt: s.RegisteredAt,
	}
}

type CaseEventResponse struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type LoginResponse struct {
	Success bool             `json:"success"`
	Token   string           `json:"token,omitempty"`
	Student *StudentResponse `json:"student,omitempty"`
}
