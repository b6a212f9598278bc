package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/config"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
	"github.com/alexdental/case-coordinator/internal/session"
)

type RouterConfig struct {
	Service   *dentalcase.Service
	Sessions  *session.Store
	Callbacks CallbackAnswerer // nil when the bot is disabled
	Cfg       config.Config
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       *zap.Logger
	Version   string
}

func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(rc.Log))

	health := NewHealthHandler(rc.PgPool, rc.Redis, rc.Cfg.Env, rc.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	auth := NewAuth(rc.Sessions)

	r.Route("/api", func(r chi.Router) {
		// Public surface: patient intake, registration, logins, the
		// claim preview behind the secret link, and the bot webhook.
		r.Post("/submit", submitCaseHandler(rc.Service))
		r.Post("/student/register", registerStudentHandler(rc.Service))
		r.Post("/student/login", studentLoginHandler(rc.Service, rc.Sessions))
		r.Post("/admin/login", adminLoginHandler(rc.Cfg, rc.Sessions))
		r.Get("/cases/claim-info/{token}", claimInfoHandler(rc.Service))
		r.Post("/telegram/webhook", telegramWebhookHandler(rc.Service, rc.Callbacks, rc.Cfg, rc.Log))

		// Any authenticated caller.
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Post("/logout", logoutHandler(rc.Sessions))
			r.Get("/cases", listCasesHandler(rc.Service))
			r.Get("/cases/{id}/history", caseHistoryHandler(rc.Service))
			r.Post("/cases/update", updateCaseHandler(rc.Service))
		})

		// Students only.
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate, RequireStudent)
			r.Post("/cases/confirm-claim", confirmClaimHandler(rc.Service))
		})

		// Admin only.
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate, RequireAdmin)
			r.Post("/cases/publish", publishCaseHandler(rc.Service))
			r.Post("/cases/publish/retry", retryBroadcastHandler(rc.Service))
			r.Post("/cases/approve-assignment", approveAssignmentHandler(rc.Service))
			r.Post("/cases/reject-assignment", rejectAssignmentHandler(rc.Service))
			r.Post("/cases/resend-details", resendDetailsHandler(rc.Service))
			r.Delete("/cases", deleteCaseHandler(rc.Service))
			r.Get("/students", listStudentsHandler(rc.Service))
			r.Post("/students/update", updateStudentHandler(rc.Service, rc.Sessions, rc.Log))
			r.Delete("/students", deleteStudentHandler(rc.Service, rc.Sessions))
		})
	})

	return r
}
