package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/config"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
)

// CallbackAnswerer closes the loading spinner on an inline button
// press and shows the outcome popup. Satisfied by the telegram
// client; nil when the bot is disabled.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

type telegramUpdate struct {
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// telegramWebhookHandler is the inbound side of callback mode: a claim
// button press arrives here and funnels into the same compare-and-set
// claim path the token link uses. Telegram retries on non-200, so the
// handler always acknowledges accepted updates and reports the outcome
// through answerCallbackQuery instead.
//
// In token mode the claim branch is disabled outright: accepting a
// callback claim there would hand out the case without the token, and
// callback payloads are forgeable by anyone who knows a case id.
func telegramWebhookHandler(svc *dentalcase.Service, answerer CallbackAnswerer, cfg config.Config, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.TelegramWebhookSecret != "" {
			got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.TelegramWebhookSecret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
				return
			}
		}

		var update telegramUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse update")
			return
		}

		cq := update.CallbackQuery
		if cq == nil || !strings.HasPrefix(cq.Data, "claim_") {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		caseID := strings.TrimPrefix(cq.Data, "claim_")

		reply := func(text string, alert bool) {
			if answerer == nil {
				return
			}
			if err := answerer.AnswerCallback(r.Context(), cq.ID, text, alert); err != nil {
				log.Debug("answerCallbackQuery failed", zap.Error(err))
			}
		}

		if cfg.ClaimMode != config.ClaimModeCallback {
			reply("Claims for this case go through the link in the broadcast.", true)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		student, err := svc.StudentByTelegramChatID(r.Context(), cq.From.ID)
		if err != nil {
			reply("Please register and link your Telegram account on the site first.", true)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		c, err := svc.ConfirmClaimByCase(r.Context(), caseID, student.ID)
		switch {
		case err == nil:
			if c.Status == dentalcase.StatusWaitingAdminApproval {
				reply("✅ Your claim was recorded. Waiting for admin approval.", true)
			} else {
				reply("✅ Case claimed. Check your private messages for details.", true)
			}
		case errors.Is(err, dentalcase.ErrAlreadyClaimed), errors.Is(err, dentalcase.ErrCaseNotFound):
			reply("⚠️ Sorry, another student claimed this case first.", true)
		case errors.Is(err, dentalcase.ErrStudentNotApproved):
			reply("⚠️ Your account is not approved for claiming cases yet.", true)
		default:
			log.Error("webhook claim failed",
				zap.String("case_id", caseID),
				zap.Error(err))
			reply("Something went wrong, please try again.", false)
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
