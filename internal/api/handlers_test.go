package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexdental/case-coordinator/internal/config"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
	"github.com/alexdental/case-coordinator/internal/session"
)

// memRepo is an in-memory dentalcase.Repository for exercising the
// HTTP surface. Mutating case methods keep the conditional-update
// contract: precondition check and change under one lock.
type memRepo struct {
	mu       sync.Mutex
	cases    map[string]*dentalcase.Case
	students map[string]*dentalcase.Student
	events   []dentalcase.CaseEvent
}

func newMemRepo() *memRepo {
	return &memRepo{
		cases:    make(map[string]*dentalcase.Case),
		students: make(map[string]*dentalcase.Student),
	}
}

func (r *memRepo) CreateCase(_ context.Context, c *dentalcase.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; ok {
		return dentalcase.ErrDuplicateID
	}
	cp := *c
	cp.SubmittedAt = time.Now()
	cp.UpdatedAt = cp.SubmittedAt
	r.cases[c.ID] = &cp
	return nil
}

func (r *memRepo) GetCaseByID(_ context.Context, id string) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, dentalcase.ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetCaseByClaimToken(_ context.Context, token string) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cases {
		if c.ClaimToken != nil && *c.ClaimToken == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, dentalcase.ErrCaseNotFound
}

func (r *memRepo) ListCases(_ context.Context) ([]dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dentalcase.Case, 0, len(r.cases))
	for _, c := range r.cases {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memRepo) ListCasesByStudent(_ context.Context, studentID string) ([]dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dentalcase.Case
	for _, c := range r.cases {
		if c.AssignedStudentID != nil && *c.AssignedStudentID == studentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) PublishCase(_ context.Context, id string, token *string, from dentalcase.CaseStatus) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.Status != from {
		return nil, dentalcase.ErrCaseNotFound
	}
	c.Status = dentalcase.StatusSentToStudents
	c.ClaimToken = token
	cp := *c
	return &cp, nil
}

func (r *memRepo) ClaimCase(_ context.Context, id, token, studentID string, to dentalcase.CaseStatus) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.Status != dentalcase.StatusSentToStudents || c.ClaimToken == nil || *c.ClaimToken != token {
		return nil, dentalcase.ErrCaseNotFound
	}
	c.Status = to
	c.AssignedStudentID = &studentID
	c.ClaimToken = nil
	cp := *c
	return &cp, nil
}

func (r *memRepo) ClaimCaseByID(_ context.Context, id, studentID string, to dentalcase.CaseStatus) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.Status != dentalcase.StatusSentToStudents {
		return nil, dentalcase.ErrCaseNotFound
	}
	c.Status = to
	c.AssignedStudentID = &studentID
	c.ClaimToken = nil
	cp := *c
	return &cp, nil
}

func (r *memRepo) ReleaseCase(_ context.Context, id string, freshToken *string) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.Status != dentalcase.StatusWaitingAdminApproval {
		return nil, dentalcase.ErrCaseNotFound
	}
	c.Status = dentalcase.StatusSentToStudents
	c.AssignedStudentID = nil
	c.ClaimToken = freshToken
	cp := *c
	return &cp, nil
}

func (r *memRepo) UpdateCaseStatus(_ context.Context, id string, from, to dentalcase.CaseStatus) (*dentalcase.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.Status != from {
		return nil, dentalcase.ErrCaseNotFound
	}
	c.Status = to
	cp := *c
	return &cp, nil
}

func (r *memRepo) ClearClaimToken(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return dentalcase.ErrCaseNotFound
	}
	c.ClaimToken = nil
	return nil
}

func (r *memRepo) SetBroadcastRef(_ context.Context, id string, chatID, messageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return dentalcase.ErrCaseNotFound
	}
	c.BroadcastChatID = &chatID
	c.BroadcastMessageID = &messageID
	return nil
}

func (r *memRepo) DeleteCase(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[id]; !ok {
		return dentalcase.ErrCaseNotFound
	}
	delete(r.cases, id)
	return nil
}

func (r *memRepo) AppendCaseEvent(_ context.Context, ev dentalcase.CaseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.CreatedAt = time.Now()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) ListCaseEvents(_ context.Context, caseID string) ([]dentalcase.CaseEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dentalcase.CaseEvent
	for _, ev := range r.events {
		if ev.CaseID == caseID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memRepo) CreateStudent(_ context.Context, s *dentalcase.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[s.ID]; ok {
		return dentalcase.ErrDuplicateID
	}
	for _, existing := range r.students {
		if existing.Email == s.Email {
			return dentalcase.ErrEmailTaken
		}
	}
	cp := *s
	r.students[s.ID] = &cp
	return nil
}

func (r *memRepo) GetStudentByID(_ context.Context, id string) (*dentalcase.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return nil, dentalcase.ErrStudentNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) GetStudentByEmail(_ context.Context, email string) (*dentalcase.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.students {
		if s.Email == email {
			cp := *s
			return &cp, nil
		}
	}
	return nil, dentalcase.ErrStudentNotFound
}

func (r *memRepo) GetStudentByTelegramChatID(_ context.Context, chatID int64) (*dentalcase.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.students {
		if s.TelegramChatID != nil && *s.TelegramChatID == chatID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, dentalcase.ErrStudentNotFound
}

func (r *memRepo) ListStudents(_ context.Context) ([]dentalcase.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dentalcase.Student, 0, len(r.students))
	for _, s := range r.students {
		out = append(out, *s)
	}
	return out, nil
}

func (r *memRepo) UpdateStudentStatus(_ context.Context, id string, to dentalcase.StudentStatus) (*dentalcase.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return nil, dentalcase.ErrStudentNotFound
	}
	s.Status = to
	cp := *s
	return &cp, nil
}

func (r *memRepo) DeleteStudent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[id]; !ok {
		return dentalcase.ErrStudentNotFound
	}
	delete(r.students, id)
	return nil
}

// stubNotifier succeeds silently; broadcast side effects are covered by
// the coordinator tests.
type stubNotifier struct{}

func (stubNotifier) Broadcast(context.Context, string, dentalcase.BroadcastAction) (*dentalcase.BroadcastRef, error) {
	return &dentalcase.BroadcastRef{ChatID: -100, MessageID: 1}, nil
}

func (stubNotifier) LockBroadcast(context.Context, dentalcase.BroadcastRef, string) error {
	return nil
}

func (stubNotifier) DirectMessage(context.Context, int64, string) error {
	return nil
}

type fakeAnswerer struct {
	mu      sync.Mutex
	replies []string
}

func (a *fakeAnswerer) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return nil
}

type testAPI struct {
	handler  http.Handler
	repo     *memRepo
	sessions *session.Store
	answerer *fakeAnswerer
}

func newTestAPI(t *testing.T, cfg config.Config) *testAPI {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemRepo()
	svc := dentalcase.NewService(repo, stubNotifier{}, cfg, zap.NewNop())
	sessions := session.NewStore(rdb, time.Hour)
	answerer := &fakeAnswerer{}

	handler := NewRouter(RouterConfig{
		Service:   svc,
		Sessions:  sessions,
		Callbacks: answerer,
		Cfg:       cfg,
		Log:       zap.NewNop(),
		Version:   "test",
	})

	return &testAPI{handler: handler, repo: repo, sessions: sessions, answerer: answerer}
}

func testAPIConfig() config.Config {
	return config.Config{
		Env:           "test",
		PublicBaseURL: "https://cases.test",
		ClaimMode:     config.ClaimModeToken,
		AdminEmail:    "admin@alexdental.test",
		AdminPassword: "admin-pass-for-tests",
	}
}

func (a *testAPI) loginStudent(t *testing.T, studentID string) string {
	t.Helper()
	token, err := a.sessions.Create(context.Background(), session.Identity{
		Role:   session.RoleStudent,
		UserID: studentID,
	})
	require.NoError(t, err)
	return token
}

func (a *testAPI) loginAdmin(t *testing.T) string {
	t.Helper()
	token, err := a.sessions.Create(context.Background(), session.Identity{
		Role:   session.RoleAdmin,
		UserID: "admin",
	})
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedStudent(id string, status dentalcase.StudentStatus, chatID int64) {
	a.repo.students[id] = &dentalcase.Student{
		ID:             id,
		FullName:       "Student " + id,
		UniversityID:   "U" + id,
		Email:          id + "@dent.alexu.test",
		Status:         status,
		TelegramChatID: &chatID,
		RegisteredAt:   time.Now(),
	}
}

func (a *testAPI) seedCase(id string, status dentalcase.CaseStatus) *dentalcase.Case {
	c := &dentalcase.Case{
		ID:             id,
		FullName:       "Patient " + id,
		Phone:          "+20 100 000 0000",
		Age:            40,
		Gender:         "female",
		District:       "Smouha",
		Problems:       []string{"Root canal treatment"},
		MedicalHistory: []string{"Diabetes"},
		MedicalNotes:   "on daily medication",
		Status:         status,
		SubmittedAt:    time.Now(),
		UpdatedAt:      time.Now(),
	}
	a.repo.cases[id] = c
	return c
}

func TestListCasesStudentViewWithholdsPendingApproval(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RequireAdminApproval = true
	app := newTestAPI(t, cfg)

	sid := "ST-10001"
	app.seedStudent(sid, dentalcase.StudentApproved, 501)
	c := app.seedCase("CS-1001", dentalcase.StatusWaitingAdminApproval)
	c.AssignedStudentID = &sid

	token := app.loginStudent(t, sid)

	rec := app.do(t, http.MethodGet, "/api/cases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Pre-approval the case appears with its status but without the
	// patient's identity or medical detail.
	body := rec.Body.String()
	assert.Contains(t, body, "CS-1001")
	assert.Contains(t, body, "WAITING_ADMIN_APPROVAL")
	assert.NotContains(t, body, "+20 100 000 0000")
	assert.NotContains(t, body, "Diabetes")
	assert.NotContains(t, body, "Patient CS-1001")
	assert.NotContains(t, body, "daily medication")

	// Approval releases the full view.
	c.Status = dentalcase.StatusApprovedForTreatment
	rec = app.do(t, http.MethodGet, "/api/cases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, "+20 100 000 0000")
	assert.Contains(t, body, "Diabetes")
}

func TestListCasesAdminSeesPendingApprovalInFull(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RequireAdminApproval = true
	app := newTestAPI(t, cfg)

	sid := "ST-10002"
	c := app.seedCase("CS-1002", dentalcase.StatusWaitingAdminApproval)
	c.AssignedStudentID = &sid

	rec := app.do(t, http.MethodGet, "/api/cases", app.loginAdmin(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The admin needs the full record to decide on the assignment.
	assert.Contains(t, rec.Body.String(), "+20 100 000 0000")
}

func TestListCasesStudentSeesOnlyOwn(t *testing.T) {
	app := newTestAPI(t, testAPIConfig())

	mine, other := "ST-10003", "ST-10004"
	c := app.seedCase("CS-1003", dentalcase.StatusInTreatment)
	c.AssignedStudentID = &mine
	c2 := app.seedCase("CS-1004", dentalcase.StatusApprovedForTreatment)
	c2.AssignedStudentID = &other
	app.seedCase("CS-1005", dentalcase.StatusSentToStudents)

	rec := app.do(t, http.MethodGet, "/api/cases", app.loginStudent(t, mine), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "CS-1003")
	assert.NotContains(t, body, "CS-1004")
	// Open cases are not browsable; the broadcast is the only way in.
	assert.NotContains(t, body, "CS-1005")
}

func forgedCallback(chatID int64, caseID string) map[string]any {
	return map[string]any{
		"callback_query": map[string]any{
			"id":   "cb-1",
			"from": map[string]any{"id": chatID},
			"data": "claim_" + caseID,
		},
	}
}

func TestWebhookClaimDisabledInTokenMode(t *testing.T) {
	app := newTestAPI(t, testAPIConfig())

	app.seedStudent("ST-20001", dentalcase.StudentApproved, 700)
	tok := "aaaabbbbccccddddaaaabbbbccccdddd"
	c := app.seedCase("CS-2001", dentalcase.StatusSentToStudents)
	c.ClaimToken = &tok

	// A callback claim would bypass the token entirely, so in token
	// mode the webhook must not claim.
	rec := app.do(t, http.MethodPost, "/api/telegram/webhook", "", forgedCallback(700, "CS-2001"))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := app.repo.GetCaseByID(context.Background(), "CS-2001")
	require.NoError(t, err)
	assert.Equal(t, dentalcase.StatusSentToStudents, stored.Status)
	assert.Nil(t, stored.AssignedStudentID)
	assert.NotNil(t, stored.ClaimToken)

	require.Len(t, app.answerer.replies, 1)
	assert.Contains(t, app.answerer.replies[0], "link in the broadcast")
}

func TestWebhookClaimCallbackMode(t *testing.T) {
	cfg := testAPIConfig()
	cfg.ClaimMode = config.ClaimModeCallback
	app := newTestAPI(t, cfg)

	app.seedStudent("ST-20002", dentalcase.StudentApproved, 701)
	app.seedCase("CS-2002", dentalcase.StatusSentToStudents)

	rec := app.do(t, http.MethodPost, "/api/telegram/webhook", "", forgedCallback(701, "CS-2002"))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := app.repo.GetCaseByID(context.Background(), "CS-2002")
	require.NoError(t, err)
	assert.Equal(t, dentalcase.StatusApprovedForTreatment, stored.Status)
	require.NotNil(t, stored.AssignedStudentID)
	assert.Equal(t, "ST-20002", *stored.AssignedStudentID)

	// A second press loses gracefully.
	rec = app.do(t, http.MethodPost, "/api/telegram/webhook", "", forgedCallback(701, "CS-2002"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, app.answerer.replies, 2)
	assert.Contains(t, app.answerer.replies[1], "claimed this case first")
}

func TestWebhookUnlinkedChat(t *testing.T) {
	cfg := testAPIConfig()
	cfg.ClaimMode = config.ClaimModeCallback
	app := newTestAPI(t, cfg)

	app.seedCase("CS-2003", dentalcase.StatusSentToStudents)

	rec := app.do(t, http.MethodPost, "/api/telegram/webhook", "", forgedCallback(999, "CS-2003"))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := app.repo.GetCaseByID(context.Background(), "CS-2003")
	require.NoError(t, err)
	assert.Equal(t, dentalcase.StatusSentToStudents, stored.Status)
	require.Len(t, app.answerer.replies, 1)
	assert.Contains(t, app.answerer.replies[0], "register")
}

func TestWebhookSecretToken(t *testing.T) {
	cfg := testAPIConfig()
	cfg.ClaimMode = config.ClaimModeCallback
	cfg.TelegramWebhookSecret = "hook-secret"
	app := newTestAPI(t, cfg)

	app.seedStudent("ST-20003", dentalcase.StudentApproved, 702)
	app.seedCase("CS-2004", dentalcase.StatusSentToStudents)

	body, err := json.Marshal(forgedCallback(702, "CS-2004"))
	require.NoError(t, err)

	// Missing or wrong secret header is rejected before any claim runs.
	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stored, err := app.repo.GetCaseByID(context.Background(), "CS-2004")
	require.NoError(t, err)
	assert.Equal(t, dentalcase.StatusSentToStudents, stored.Status)

	req = httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "hook-secret")
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err = app.repo.GetCaseByID(context.Background(), "CS-2004")
	require.NoError(t, err)
	assert.Equal(t, dentalcase.StatusApprovedForTreatment, stored.Status)
}

func TestRouteGuards(t *testing.T) {
	app := newTestAPI(t, testAPIConfig())
	app.seedStudent("ST-30001", dentalcase.StudentApproved, 800)

	studentToken := app.loginStudent(t, "ST-30001")
	adminToken := app.loginAdmin(t)

	t.Run("no session", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/api/cases", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = app.do(t, http.MethodGet, "/api/cases", "not-a-session", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("student blocked from admin routes", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/cases/publish", studentToken, CaseIDRequest{ID: "CS-1"})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(t, http.MethodGet, "/api/students", studentToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin blocked from student claim", func(t *testing.T) {
		rec := app.do(t, http.MethodPost, "/api/cases/confirm-claim", adminToken, ConfirmClaimRequest{Token: "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin allowed on admin routes", func(t *testing.T) {
		rec := app.do(t, http.MethodGet, "/api/students", adminToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
