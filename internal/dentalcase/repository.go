package dentalcase

import (
	"context"
	"errors"
)

var (
	ErrCaseNotFound    = errors.New("case not found")
	ErrStudentNotFound = errors.New("student not found")
	ErrDuplicateID     = errors.New("id already taken")
	ErrEmailTaken      = errors.New("email already registered")
)

// Repository contains all DB interactions needed by the coordinator.
//
// Every mutating case method takes the expected current status and
// affects no row when the precondition no longer holds; callers see
// ErrCaseNotFound in that situation. That conditional-update contract
// is the mutual-exclusion primitive for concurrent claims, so
// implementations must apply it in a single atomic statement, never as
// a read followed by a write.
type Repository interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCaseByID(ctx context.Context, id string) (*Case, error)
	GetCaseByClaimToken(ctx context.Context, token string) (*Case, error)
	ListCases(ctx context.Context) ([]Case, error)
	ListCasesByStudent(ctx context.Context, studentID string) ([]Case, error)

	// PublishCase moves a case to SENT_TO_STUDENTS and installs the
	// claim token (nil in callback mode), only if status is still from.
	PublishCase(ctx context.Context, id string, token *string, from CaseStatus) (*Case, error)

	// ClaimCase is the mutual-exclusion point: assign the student and
	// clear the token, only if status is still SENT_TO_STUDENTS and the
	// token matches. to is APPROVED_FOR_TREATMENT or
	// WAITING_ADMIN_APPROVAL depending on gating.
	ClaimCase(ctx context.Context, id, token, studentID string, to CaseStatus) (*Case, error)

	// ClaimCaseByID is the callback-mode variant: same precondition on
	// status, no token involved.
	ClaimCaseByID(ctx context.Context, id, studentID string, to CaseStatus) (*Case, error)

	// ReleaseCase reverts an admin-rejected claim: back to
	// SENT_TO_STUDENTS, assignee cleared, fresh token installed, only
	// if status is still WAITING_ADMIN_APPROVAL.
	ReleaseCase(ctx context.Context, id string, freshToken *string) (*Case, error)

	UpdateCaseStatus(ctx context.Context, id string, from, to CaseStatus) (*Case, error)

	// ClearClaimToken invalidates an outstanding claim link, e.g. when
	// a broadcast case is cancelled before anyone claims it.
	ClearClaimToken(ctx context.Context, id string) error
	SetBroadcastRef(ctx context.Context, id string, chatID, messageID int64) error
	DeleteCase(ctx context.Context, id string) error

	AppendCaseEvent(ctx context.Context, ev CaseEvent) error
	ListCaseEvents(ctx context.Context, caseID string) ([]CaseEvent, error)

	CreateStudent(ctx context.Context, s *Student) error
	GetStudentByID(ctx context.Context, id string) (*Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*Student, error)
	GetStudentByTelegramChatID(ctx context.Context, chatID int64) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudentStatus(ctx context.Context, id string, to StudentStatus) (*Student, error)
	DeleteStudent(ctx context.Context, id string) error
}
