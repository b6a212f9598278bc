package dentalcase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexdental/case-coordinator/internal/config"
)

var (
	ErrWrongState              = errors.New("case is not in a valid state for this operation")
	ErrCaseUnavailable         = errors.New("case is no longer available")
	ErrAlreadyClaimed          = errors.New("case already claimed by another student")
	ErrInvalidToken            = errors.New("invalid or expired claim link")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotAssignee             = errors.New("case is assigned to another student")
	ErrStudentNotApproved      = errors.New("student account is not approved")
	ErrNoAssignee              = errors.New("case has no assigned student")
	ErrBroadcastFailed         = errors.New("case published but broadcast failed")
	ErrDeliveryFailed          = errors.New("could not deliver private case details")
	ErrStudentPending          = errors.New("account is still under review")
	ErrStudentRejected         = errors.New("account registration was rejected")
	ErrBadCredentials          = errors.New("invalid email or password")
	ErrConsentRequired         = errors.New("legal consent is required")
	ErrValidation              = errors.New("invalid input")
)

// Actor identifies who is invoking an operation, for authorization of
// status updates and history reads.
type Actor struct {
	Admin     bool
	StudentID string
}

// Service is the claim coordinator. It owns the case state machine and
// guarantees that concurrent claim confirmations for one case resolve
// to exactly one winner, relying on the repository's conditional
// updates rather than any in-process locking.
type Service struct {
	repo     Repository
	notifier Notifier
	cfg      config.Config
	log      *zap.Logger
}

func NewService(repo Repository, notifier Notifier, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// --- Case intake ---

type SubmitCaseInput struct {
	FullName                  string
	Phone                     string
	Age                       int
	Gender                    string
	District                  string
	Problems                  []string
	MedicalHistory            []string
	MedicalNotes              string
	MedicalHistoryDeclared    bool
	AdditionalNotes           string
	TermsAccepted             bool
	PrivacyAccepted           bool
	MedicalDisclaimerAccepted bool
}

func (in SubmitCaseInput) validate() error {
	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.Phone) == "" {
		return fmt.Errorf("%w: name and phone are required", ErrValidation)
	}
	if in.Age <= 0 || in.Age > 120 {
		return fmt.Errorf("%w: age out of range", ErrValidation)
	}
	if len(in.Problems) == 0 {
		return fmt.Errorf("%w: at least one complaint is required", ErrValidation)
	}
	if !in.TermsAccepted || !in.PrivacyAccepted || !in.MedicalDisclaimerAccepted {
		return ErrConsentRequired
	}
	return nil
}

// SubmitCase creates a new case in RECEIVED state and returns it with
// its server-issued id.
func (s *Service) SubmitCase(ctx context.Context, in SubmitCaseInput) (*Case, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &Case{
		FullName:               strings.TrimSpace(in.FullName),
		Phone:                  strings.TrimSpace(in.Phone),
		Age:                    in.Age,
		Gender:                 in.Gender,
		District:               in.District,
		Problems:               in.Problems,
		MedicalHistory:         in.MedicalHistory,
		MedicalNotes:           in.MedicalNotes,
		MedicalHistoryDeclared: in.MedicalHistoryDeclared,
		AdditionalNotes:        in.AdditionalNotes,
		Status:                 StatusReceived,
	}

	for attempt := 0; ; attempt++ {
		digits, err := randomDigits(4)
		if err != nil {
			return nil, err
		}
		c.ID = "CS-" + digits

		err = s.repo.CreateCase(ctx, c)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateID) && attempt < 5 {
			continue
		}
		return nil, fmt.Errorf("create case: %w", err)
	}

	s.appendEvent(ctx, c.ID, StatusReceived, "case submitted")

	created, err := s.repo.GetCaseByID(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load created case: %w", err)
	}
	return created, nil
}

// --- Publish ---

// PublishCase transitions a reviewed case to SENT_TO_STUDENTS and
// broadcasts the sanitized summary. The status write commits before
// the broadcast attempt; a gateway failure surfaces as
// ErrBroadcastFailed with the transition intact, and RetryBroadcast
// resends without touching status.
func (s *Service) PublishCase(ctx context.Context, id string) (*Case, error) {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusReceived && c.Status != StatusUnderReview {
		return nil, ErrWrongState
	}

	var token *string
	if s.cfg.ClaimMode == config.ClaimModeToken {
		t, err := NewClaimToken()
		if err != nil {
			return nil, err
		}
		token = &t
	}

	published, err := s.repo.PublishCase(ctx, id, token, c.Status)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			// Status moved between the read and the conditional update.
			return nil, ErrWrongState
		}
		return nil, fmt.Errorf("publish case: %w", err)
	}

	s.appendEvent(ctx, published.ID, StatusSentToStudents, "published to student pool")

	if err := s.sendBroadcast(ctx, published); err != nil {
		s.log.Warn("broadcast failed after publish",
			zap.String("case_id", published.ID),
			zap.Error(err))
		return published, ErrBroadcastFailed
	}

	return published, nil
}

// RetryBroadcast re-sends the broadcast for an already published case.
func (s *Service) RetryBroadcast(ctx context.Context, id string) (*Case, error) {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusSentToStudents {
		return nil, ErrWrongState
	}

	if err := s.sendBroadcast(ctx, c); err != nil {
		s.log.Warn("broadcast retry failed",
			zap.String("case_id", c.ID),
			zap.Error(err))
		return c, ErrBroadcastFailed
	}

	return c, nil
}

func (s *Service) sendBroadcast(ctx context.Context, c *Case) error {
	action := BroadcastAction{Label: "✅ Claim this case"}
	if s.cfg.ClaimMode == config.ClaimModeToken {
		if c.ClaimToken == nil {
			return fmt.Errorf("case %s has no claim token", c.ID)
		}
		action.URL = strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/claim/" + *c.ClaimToken
	} else {
		action.CallbackData = "claim_" + c.ID
	}

	ref, err := s.notifier.Broadcast(ctx, BroadcastText(c), action)
	if err != nil {
		return err
	}

	if err := s.repo.SetBroadcastRef(ctx, c.ID, ref.ChatID, ref.MessageID); err != nil {
		// The claim path works without the ref; only the later edit misses.
		s.log.Warn("failed to persist broadcast ref",
			zap.String("case_id", c.ID),
			zap.Error(err))
	}

	return nil
}

// --- Claim ---

// ClaimPreview returns the redacted case summary behind a claim link.
// Once the case leaves SENT_TO_STUDENTS the preview is gone, never
// served stale.
func (s *Service) ClaimPreview(ctx context.Context, token string) (*Preview, error) {
	c, err := s.repo.GetCaseByClaimToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load case by token: %w", err)
	}
	if c.Status != StatusSentToStudents {
		return nil, ErrCaseUnavailable
	}

	p := c.Preview()
	return &p, nil
}

func (s *Service) claimTarget() CaseStatus {
	if s.cfg.RequireAdminApproval {
		return StatusWaitingAdminApproval
	}
	return StatusApprovedForTreatment
}

// ConfirmClaim is the mutual-exclusion point for token mode. Any
// number of concurrent calls with the same token resolve to one winner
// through the repository's compare-and-set; everyone else gets
// ErrAlreadyClaimed and never sees sensitive data.
func (s *Service) ConfirmClaim(ctx context.Context, token, studentID string) (*Case, error) {
	student, err := s.approvedStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetCaseByClaimToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load case by token: %w", err)
	}
	if c.Status != StatusSentToStudents {
		return nil, ErrAlreadyClaimed
	}

	claimed, err := s.repo.ClaimCase(ctx, c.ID, token, studentID, s.claimTarget())
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			// Lost the race between read and compare-and-set.
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim case: %w", err)
	}

	s.finishClaim(ctx, claimed, student)
	return claimed, nil
}

// ConfirmClaimByCase is the callback-mode entry point used by the
// Telegram webhook. Same guarantees, keyed by case id.
func (s *Service) ConfirmClaimByCase(ctx context.Context, caseID, studentID string) (*Case, error) {
	student, err := s.approvedStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusSentToStudents {
		return nil, ErrAlreadyClaimed
	}

	claimed, err := s.repo.ClaimCaseByID(ctx, caseID, studentID, s.claimTarget())
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim case: %w", err)
	}

	s.finishClaim(ctx, claimed, student)
	return claimed, nil
}

func (s *Service) approvedStudent(ctx context.Context, studentID string) (*Student, error) {
	student, err := s.repo.GetStudentByID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if student.Status != StudentApproved {
		return nil, ErrStudentNotApproved
	}
	return student, nil
}

// finishClaim runs the post-commit side effects: history entry,
// broadcast lock, private delivery. The claim itself is already
// durable, so every failure here is logged and recorded but never
// propagated as a claim failure.
func (s *Service) finishClaim(ctx context.Context, c *Case, student *Student) {
	s.appendEvent(ctx, c.ID, c.Status, "claimed by "+student.FullName+" ("+student.ID+")")

	if c.BroadcastChatID != nil && c.BroadcastMessageID != nil {
		ref := BroadcastRef{ChatID: *c.BroadcastChatID, MessageID: *c.BroadcastMessageID}

		finalText := LockedBroadcastText(c, student.FullName)
		if c.Status == StatusWaitingAdminApproval {
			finalText = PendingReviewBroadcastText(c, student.FullName)
		}
		if err := s.notifier.LockBroadcast(ctx, ref, finalText); err != nil {
			s.log.Warn("failed to lock broadcast",
				zap.String("case_id", c.ID),
				zap.Error(err))
		}
	}

	text := PrivateDetailsText(c)
	if c.Status == StatusWaitingAdminApproval {
		text = WaitingApprovalText(c)
	}
	if err := s.deliverPrivate(ctx, student, text); err != nil {
		s.log.Warn("private delivery failed after claim",
			zap.String("case_id", c.ID),
			zap.String("student_id", student.ID),
			zap.Error(err))
		s.appendEvent(ctx, c.ID, c.Status, "private delivery to "+student.ID+" failed; resend required")
	}
}

func (s *Service) deliverPrivate(ctx context.Context, student *Student, text string) error {
	if student.TelegramChatID == nil {
		return fmt.Errorf("student %s has no telegram chat id", student.ID)
	}
	return s.notifier.DirectMessage(ctx, *student.TelegramChatID, text)
}

// --- Admin gating ---

// ApproveAssignment releases the sensitive payload to the student
// recorded during a gated claim.
func (s *Service) ApproveAssignment(ctx context.Context, id string) (*Case, error) {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusWaitingAdminApproval {
		return nil, ErrWrongState
	}
	if c.AssignedStudentID == nil {
		return nil, ErrNoAssignee
	}

	updated, err := s.repo.UpdateCaseStatus(ctx, id, StatusWaitingAdminApproval, StatusApprovedForTreatment)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrWrongState
		}
		return nil, fmt.Errorf("approve assignment: %w", err)
	}

	s.appendEvent(ctx, updated.ID, StatusApprovedForTreatment, "assignment approved by admin")

	student, err := s.repo.GetStudentByID(ctx, *updated.AssignedStudentID)
	if err != nil {
		s.log.Error("assigned student missing on approval",
			zap.String("case_id", updated.ID),
			zap.Error(err))
		return updated, nil
	}

	if c.BroadcastChatID != nil && c.BroadcastMessageID != nil {
		ref := BroadcastRef{ChatID: *c.BroadcastChatID, MessageID: *c.BroadcastMessageID}
		if err := s.notifier.LockBroadcast(ctx, ref, LockedBroadcastText(updated, student.FullName)); err != nil {
			s.log.Warn("failed to lock broadcast on approval",
				zap.String("case_id", updated.ID),
				zap.Error(err))
		}
	}

	if err := s.deliverPrivate(ctx, student, PrivateDetailsText(updated)); err != nil {
		s.log.Warn("private delivery failed after approval",
			zap.String("case_id", updated.ID),
			zap.Error(err))
		s.appendEvent(ctx, updated.ID, updated.Status, "private delivery to "+student.ID+" failed; resend required")
	}

	return updated, nil
}

// RejectAssignment reverts a gated claim: the case returns to
// SENT_TO_STUDENTS with the assignee cleared and, in token mode, a
// fresh single-use token, then is re-broadcast so exactly one new
// claim race can happen.
func (s *Service) RejectAssignment(ctx context.Context, id string) (*Case, error) {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusWaitingAdminApproval {
		return nil, ErrWrongState
	}

	rejectedStudentID := c.AssignedStudentID

	var fresh *string
	if s.cfg.ClaimMode == config.ClaimModeToken {
		t, err := NewClaimToken()
		if err != nil {
			return nil, err
		}
		fresh = &t
	}

	released, err := s.repo.ReleaseCase(ctx, id, fresh)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrWrongState
		}
		return nil, fmt.Errorf("release case: %w", err)
	}

	s.appendEvent(ctx, released.ID, StatusSentToStudents, "assignment rejected by admin; case reopened")

	if rejectedStudentID != nil {
		if student, err := s.repo.GetStudentByID(ctx, *rejectedStudentID); err == nil {
			if err := s.deliverPrivate(ctx, student, ClaimRejectedText(released)); err != nil {
				s.log.Debug("could not notify rejected student", zap.Error(err))
			}
		}
	}

	if err := s.sendBroadcast(ctx, released); err != nil {
		s.log.Warn("re-broadcast failed after rejection",
			zap.String("case_id", released.ID),
			zap.Error(err))
		return released, ErrBroadcastFailed
	}

	return released, nil
}

// ResendDetails re-delivers the sensitive payload to the existing
// assignee. It is the recovery path for a failed direct message and is
// never a fresh claim.
func (s *Service) ResendDetails(ctx context.Context, id string) error {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return err
	}

	switch c.Status {
	case StatusApprovedForTreatment, StatusContactedPatient, StatusInTreatment:
	default:
		return ErrWrongState
	}
	if c.AssignedStudentID == nil {
		return ErrNoAssignee
	}

	student, err := s.repo.GetStudentByID(ctx, *c.AssignedStudentID)
	if err != nil {
		return err
	}

	if err := s.deliverPrivate(ctx, student, PrivateDetailsText(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.appendEvent(ctx, c.ID, c.Status, "case details re-sent to "+student.ID)
	return nil
}

// --- Status progression ---

// claimProtocolEdge marks transitions that must go through the
// dedicated publish/claim/approve/reject operations so their side
// effects (tokens, broadcasts, private delivery) cannot be skipped.
func claimProtocolEdge(from, to CaseStatus) bool {
	switch {
	case to == StatusSentToStudents:
		return true
	case from == StatusSentToStudents && (to == StatusWaitingAdminApproval || to == StatusApprovedForTreatment):
		return true
	case from == StatusWaitingAdminApproval && to == StatusApprovedForTreatment:
		return true
	}
	return false
}

// UpdateStatus advances a case along the legal adjacency. Students may
// only move their own cases; nobody reopens a terminal case.
func (s *Service) UpdateStatus(ctx context.Context, id string, to CaseStatus, actor Actor) (*Case, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatusTransition
	}

	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.Admin {
		if c.AssignedStudentID == nil || *c.AssignedStudentID != actor.StudentID {
			return nil, ErrNotAssignee
		}
	}

	if !CanTransition(c.Status, to) || claimProtocolEdge(c.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateCaseStatus(ctx, id, c.Status, to)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update case status: %w", err)
	}

	note := "status updated by admin"
	if !actor.Admin {
		note = "status updated by assigned student"
	}
	s.appendEvent(ctx, updated.ID, to, note)

	// Cancelling a broadcast case kills the outstanding claim link and
	// retires the group message.
	if c.Status == StatusSentToStudents && to == StatusCancelled {
		if updated.ClaimToken != nil {
			if err := s.repo.ClearClaimToken(ctx, updated.ID); err != nil {
				s.log.Warn("failed to clear claim token on cancel",
					zap.String("case_id", updated.ID),
					zap.Error(err))
			}
		}
		if c.BroadcastChatID != nil && c.BroadcastMessageID != nil {
			ref := BroadcastRef{ChatID: *c.BroadcastChatID, MessageID: *c.BroadcastMessageID}
			if err := s.notifier.LockBroadcast(ctx, ref, BroadcastText(c)+"\n\n❌ This case is no longer available."); err != nil {
				s.log.Warn("failed to retire broadcast on cancel",
					zap.String("case_id", updated.ID),
					zap.Error(err))
			}
		}
	}

	return updated, nil
}

// --- Queries ---

func (s *Service) GetCase(ctx context.Context, id string) (*Case, error) {
	return s.repo.GetCaseByID(ctx, id)
}

func (s *Service) ListCasesForAdmin(ctx context.Context) ([]Case, error) {
	return s.repo.ListCases(ctx)
}

// ListCasesForStudent returns only the caller's assigned cases.
// Unclaimed SENT_TO_STUDENTS cases are deliberately not browsable
// here; the broadcast channel is the only discovery path.
func (s *Service) ListCasesForStudent(ctx context.Context, studentID string) ([]Case, error) {
	return s.repo.ListCasesByStudent(ctx, studentID)
}

func (s *Service) CaseHistory(ctx context.Context, id string, actor Actor) ([]CaseEvent, error) {
	c, err := s.repo.GetCaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Admin {
		if c.AssignedStudentID == nil || *c.AssignedStudentID != actor.StudentID {
			return nil, ErrNotAssignee
		}
	}
	return s.repo.ListCaseEvents(ctx, id)
}

func (s *Service) DeleteCase(ctx context.Context, id string) error {
	return s.repo.DeleteCase(ctx, id)
}

// --- Students ---

type RegisterStudentInput struct {
	FullName          string
	UniversityID      string
	Email             string
	Password          string
	TelegramChatID    *int64
	TermsAccepted     bool
	LiabilityAccepted bool
}

func (s *Service) RegisterStudent(ctx context.Context, in RegisterStudentInput) (*Student, error) {
	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.UniversityID) == "" ||
		strings.TrimSpace(in.Email) == "" {
		return nil, fmt.Errorf("%w: name, university id and email are required", ErrValidation)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	if !in.TermsAccepted || !in.LiabilityAccepted {
		return nil, ErrConsentRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	student := &Student{
		FullName:          strings.TrimSpace(in.FullName),
		UniversityID:      strings.TrimSpace(in.UniversityID),
		Email:             strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash:      string(hash),
		Status:            StudentPending,
		TelegramChatID:    in.TelegramChatID,
		TermsAccepted:     true,
		LiabilityAccepted: true,
		ConsentedAt:       &now,
	}

	for attempt := 0; ; attempt++ {
		digits, err := randomDigits(5)
		if err != nil {
			return nil, err
		}
		student.ID = "ST-" + digits

		err = s.repo.CreateStudent(ctx, student)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateID) && attempt < 5 {
			continue
		}
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create student: %w", err)
	}

	return student, nil
}

// LoginStudent checks credentials and the approval gate. Pending and
// rejected accounts fail with distinct errors so the UI can explain.
func (s *Service) LoginStudent(ctx context.Context, email, password string) (*Student, error) {
	student, err := s.repo.GetStudentByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	switch student.Status {
	case StudentPending:
		return nil, ErrStudentPending
	case StudentRejected:
		return nil, ErrStudentRejected
	}

	return student, nil
}

func (s *Service) SetStudentStatus(ctx context.Context, id string, to StudentStatus) (*Student, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown student status %q", ErrValidation, to)
	}
	return s.repo.UpdateStudentStatus(ctx, id, to)
}

func (s *Service) ListStudents(ctx context.Context) ([]Student, error) {
	return s.repo.ListStudents(ctx)
}

func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	return s.repo.DeleteStudent(ctx, id)
}

func (s *Service) StudentByTelegramChatID(ctx context.Context, chatID int64) (*Student, error) {
	return s.repo.GetStudentByTelegramChatID(ctx, chatID)
}

// appendEvent writes one status-history row. History is advisory next
// to the case row, so failures are logged, not propagated.
func (s *Service) appendEvent(ctx context.Context, caseID string, status CaseStatus, note string) {
	ev := CaseEvent{
		CaseID: caseID,
		Status: status,
		Note:   note,
	}
	if err := s.repo.AppendCaseEvent(ctx, ev); err != nil {
		s.log.Error("failed to append case event",
			zap.String("case_id", caseID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
