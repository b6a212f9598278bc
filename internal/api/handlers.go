package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alexdental/case-coordinator/internal/dentalcase"
	"github.com/alexdental/case-coordinator/internal/session"
)

func submitCaseHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitCaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		c, err := svc.SubmitCase(r.Context(), dentalcase.SubmitCaseInput{
			FullName:                  req.FullName,
			Phone:                     req.Phone,
			Age:                       req.Age,
			Gender:                    req.Gender,
			District:                  req.District,
			Problems:                  req.Problems,
			MedicalHistory:            req.MedicalHistory,
			MedicalNotes:              req.MedicalNotes,
			MedicalHistoryDeclared:    req.MedicalHistoryDeclared,
			AdditionalNotes:           req.AdditionalNotes,
			TermsAccepted:             req.TermsAccepted,
			PrivacyAccepted:           req.PrivacyAccepted,
			MedicalDisclaimerAccepted: req.MedicalDisclaimerAccepted,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": c.ID})
	}
}

func publishCaseHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaseIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		c, err := svc.PublishCase(r.Context(), req.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(c.Status)})
	}
}

func retryBroadcastHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaseIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if _, err := svc.RetryBroadcast(r.Context(), req.ID); err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func claimInfoHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		p, err := svc.ClaimPreview(r.Context(), token)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PreviewResponse{
			ID:       p.ID,
			Age:      p.Age,
			Gender:   p.Gender,
			District: p.District,
			Problems: p.Problems,
		})
	}
}

func confirmClaimHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := IdentityFromContext(r.Context())

		var req ConfirmClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "missing_token", "token is required")
			return
		}

		c, err := svc.ConfirmClaim(r.Context(), req.Token, ident.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"caseId":  c.ID,
			"status":  string(c.Status),
		})
	}
}

func listCasesHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := IdentityFromContext(r.Context())

		var (
			cases []dentalcase.Case
			err   error
		)
		if ident.Role == session.RoleAdmin {
			cases, err = svc.ListCasesForAdmin(r.Context())
		} else {
			// Students see only their own assigned cases; open cases
			// are discoverable through the broadcast channel only.
			cases, err = svc.ListCasesForStudent(r.Context(), ident.UserID)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]CaseResponse, 0, len(cases))
		for i := range cases {
			c := &cases[i]
			if ident.Role != session.RoleAdmin && c.Status == dentalcase.StatusWaitingAdminApproval {
				// Sensitive data stays withheld until the admin approves
				// the gated claim.
				resp = append(resp, toPendingCaseResponse(c))
				continue
			}
			resp = append(resp, toCaseResponse(c))
		}

		writeJSON(w, http.StatusOK, map[string]any{"cases": resp})
	}
}

func caseHistoryHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := IdentityFromContext(r.Context())
		id := chi.URLParam(r, "id")

		events, err := svc.CaseHistory(r.Context(), id, actorFor(ident))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]CaseEventResponse, 0, len(events))
		for _, ev := range events {
			resp = append(resp, CaseEventResponse{
				Status:    string(ev.Status),
				Note:      ev.Note,
				Timestamp: ev.CreatedAt,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"history": resp})
	}
}

func updateCaseHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident := IdentityFromContext(r.Context())

		var req UpdateCaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		c, err := svc.UpdateStatus(r.Context(), req.ID, dentalcase.CaseStatus(req.Status), actorFor(ident))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(c.Status)})
	}
}

func deleteCaseHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing_id", "id query parameter is required")
			return
		}

		if err := svc.DeleteCase(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func approveAssignmentHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaseIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		c, err := svc.ApproveAssignment(r.Context(), req.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(c.Status)})
	}
}

func rejectAssignmentHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaseIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		c, err := svc.RejectAssignment(r.Context(), req.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(c.Status)})
	}
}

func resendDetailsHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaseIDRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.ResendDetails(r.Context(), req.ID); err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func actorFor(ident *session.Identity) dentalcase.Actor {
	if ident.Role == session.RoleAdmin {
		return dentalcase.Actor{Admin: true}
	}
	return dentalcase.Actor{StudentID: ident.UserID}
}

// writeServiceError maps coordinator errors onto the HTTP taxonomy:
// conflicts and not-found are user-facing 4xx, gateway failures are
// retryable 502s, everything else is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dentalcase.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, "case_not_found", "case not found")
	case errors.Is(err, dentalcase.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, "student_not_found", "student not found")
	case errors.Is(err, dentalcase.ErrInvalidToken):
		writeError(w, http.StatusNotFound, "invalid_token", "claim link is invalid or expired")
	case errors.Is(err, dentalcase.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, "already_claimed", "another student claimed this case first")
	case errors.Is(err, dentalcase.ErrCaseUnavailable):
		writeError(w, http.StatusConflict, "case_unavailable", "this case is no longer available")
	case errors.Is(err, dentalcase.ErrWrongState):
		writeError(w, http.StatusConflict, "wrong_state", err.Error())
	case errors.Is(err, dentalcase.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, dentalcase.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email is already registered")
	case errors.Is(err, dentalcase.ErrStudentNotApproved):
		writeError(w, http.StatusForbidden, "student_not_approved", "your account is not approved for claiming cases")
	case errors.Is(err, dentalcase.ErrNotAssignee):
		writeError(w, http.StatusForbidden, "not_assignee", "this case is assigned to another student")
	case errors.Is(err, dentalcase.ErrNoAssignee):
		writeError(w, http.StatusConflict, "no_assignee", err.Error())
	case errors.Is(err, dentalcase.ErrBroadcastFailed):
		writeError(w, http.StatusBadGateway, "broadcast_failed", "case published but the broadcast failed; retry the send")
	case errors.Is(err, dentalcase.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "delivery_failed", "could not deliver private details; check the student's chat")
	case errors.Is(err, dentalcase.ErrConsentRequired):
		writeError(w, http.StatusBadRequest, "consent_required", "all legal consents must be accepted")
	case errors.Is(err, dentalcase.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, dentalcase.ErrStudentPending):
		writeError(w, http.StatusUnauthorized, "account_pending", "your account is still under review")
	case errors.Is(err, dentalcase.ErrStudentRejected):
		writeError(w, http.StatusUnauthorized, "account_rejected", "your registration was rejected")
	case errors.Is(err, dentalcase.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "bad_credentials", "invalid email or password")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
