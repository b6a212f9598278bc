package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/config"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
	"github.com/alexdental/case-coordinator/internal/session"
)

func registerStudentHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterStudentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		student, err := svc.RegisterStudent(r.Context(), dentalcase.RegisterStudentInput{
			FullName:          req.FullName,
			UniversityID:      req.UniversityID,
			Email:             req.Email,
			Password:          req.Password,
			TelegramChatID:    req.TelegramChatID,
			TermsAccepted:     req.TermsAccepted,
			LiabilityAccepted: req.LiabilityAccepted,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": student.ID})
	}
}

func studentLoginHandler(svc *dentalcase.Service, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		student, err := svc.LoginStudent(r.Context(), req.Email, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		token, err := sessions.Create(r.Context(), session.Identity{
			Role:   session.RoleStudent,
			UserID: student.ID,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not create session")
			return
		}

		resp := toStudentResponse(student)
		writeJSON(w, http.StatusOK, LoginResponse{Success: true, Token: token, Student: &resp})
	}
}

func adminLoginHandler(cfg config.Config, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		emailOK := subtle.ConstantTimeCompare([]byte(req.Email), []byte(cfg.AdminEmail)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(cfg.AdminPassword)) == 1
		if !emailOK || !passOK {
			writeError(w, http.StatusUnauthorized, "bad_credentials", "invalid email or password")
			return
		}

		token, err := sessions.Create(r.Context(), session.Identity{
			Role:   session.RoleAdmin,
			UserID: "admin",
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not create session")
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{Success: true, Token: token})
	}
}

func logoutHandler(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			_ = sessions.Delete(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func listStudentsHandler(svc *dentalcase.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		students, err := svc.ListStudents(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]StudentResponse, 0, len(students))
		for i := range students {
			resp = append(resp, toStudentResponse(&students[i]))
		}

		writeJSON(w, http.StatusOK, map[string]any{"students": resp})
	}
}

func updateStudentHandler(svc *dentalcase.Service, sessions *session.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStudentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		student, err := svc.SetStudentStatus(r.Context(), req.ID, dentalcase.StudentStatus(req.Status))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		// A freeze takes effect immediately, not at session expiry.
		if student.Status == dentalcase.StudentRejected {
			if err := sessions.RevokeUser(r.Context(), student.ID); err != nil {
				log.Warn("failed to revoke sessions for frozen student",
					zap.String("student_id", student.ID),
					zap.Error(err))
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(student.Status)})
	}
}

func deleteStudentHandler(svc *dentalcase.Service, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing_id", "id query parameter is required")
			return
		}

		if err := svc.DeleteStudent(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		_ = sessions.RevokeUser(r.Context(), id)

		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
