package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexdental/case-coordinator/internal/db"
)

// The simulator drives the claim race end to end against a running
// api-server: submit, publish, then a burst of concurrent
// confirm-claim calls per case. It reads the claim token straight from
// Postgres because the token is deliberately absent from every API
// response.

type SimConfig struct {
	APIBaseURL      string
	PostgresDSN     string
	AdminEmail      string
	AdminPassword   string
	StudentPassword string
	Rounds          int
	Claimers        int
}

type OperationMetrics struct {
	mu        sync.Mutex
	Total     int
	Success   int
	Conflict  int
	Error     int
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	om.mu.Lock()
	defer om.mu.Unlock()

	om.Total++
	switch {
	case status >= 200 && status < 300:
		om.Success++
	case status == http.StatusConflict || status == http.StatusNotFound:
		om.Conflict++
	default:
		om.Error++
	}
	om.Latencies = append(om.Latencies, latency)
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	max = latencies[len(latencies)-1]
	return
}

type Simulator struct {
	cfg      SimConfig
	client   *http.Client
	pool     *pgxpool.Pool
	admin    string   // admin session token
	students []string // student session tokens
	claims   OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolSettings{DSN: cfg.PostgresDSN})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	sim := &Simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		pool:   pool,
	}

	if err := sim.login(context.Background()); err != nil {
		log.Fatalf("login: %v", err)
	}
	log.Printf("logged in admin and %d students", len(sim.students))

	for round := 1; round <= cfg.Rounds; round++ {
		if err := sim.runRound(context.Background(), round); err != nil {
			log.Printf("round %d failed: %v", round, err)
		}
	}

	sim.printReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		AdminEmail:      getEnv("ADMIN_EMAIL", "admin@alexdental.org"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		StudentPassword: getEnv("SIM_STUDENT_PASSWORD", "password123!"),
		Rounds:          getInt("SIM_ROUNDS", 5),
		Claimers:        getInt("SIM_CLAIMERS", 10),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if cfg.AdminPassword == "" {
		log.Fatal("ADMIN_PASSWORD is required")
	}
	return cfg
}

func (s *Simulator) login(ctx context.Context) error {
	token, _, err := s.postJSON(ctx, "/api/admin/login", "", map[string]any{
		"email":    s.cfg.AdminEmail,
		"password": s.cfg.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	s.admin = token

	rows, err := s.pool.Query(ctx, `
		SELECT email FROM students
		WHERE status = 'APPROVED'
		LIMIT $1
	`, s.cfg.Claimers)
	if err != nil {
		return fmt.Errorf("load students: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return err
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(emails) < 2 {
		return fmt.Errorf("need at least 2 approved students, have %d (run cmd/seed first)", len(emails))
	}

	for _, email := range emails {
		token, _, err := s.postJSON(ctx, "/api/student/login", "", map[string]any{
			"email":    email,
			"password": s.cfg.StudentPassword,
		})
		if err != nil {
			log.Printf("student login failed for %s: %v", email, err)
			continue
		}
		s.students = append(s.students, token)
	}
	if len(s.students) < 2 {
		return fmt.Errorf("need at least 2 student sessions, have %d", len(s.students))
	}

	return nil
}

func (s *Simulator) runRound(ctx context.Context, round int) error {
	// Submit a fresh case.
	var submitResp struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"fullName":                  gofakeit.Name(),
		"phone":                     gofakeit.Phone(),
		"age":                       gofakeit.Number(18, 80),
		"gender":                    "male",
		"district":                  "Smouha",
		"problems":                  []string{"Tooth extraction"},
		"termsAccepted":             true,
		"privacyAccepted":           true,
		"medicalDisclaimerAccepted": true,
	}
	if err := s.postInto(ctx, "/api/submit", "", body, &submitResp); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	// Publish. A 502 means the broadcast failed but the case is live,
	// which is fine for the race.
	_, status, err := s.postJSON(ctx, "/api/cases/publish", s.admin, map[string]any{"id": submitResp.ID})
	if err != nil && status != http.StatusBadGateway {
		return fmt.Errorf("publish: %w", err)
	}

	var token *string
	err = s.pool.QueryRow(ctx, `SELECT claim_token FROM cases WHERE id = $1`, submitResp.ID).Scan(&token)
	if err != nil {
		return fmt.Errorf("read claim token: %w", err)
	}
	if token == nil {
		return fmt.Errorf("case %s has no claim token (is CLAIM_MODE=token?)", submitResp.ID)
	}

	// Everyone pulls the trigger at once.
	var wg sync.WaitGroup
	start := make(chan struct{})
	wins := make([]int, len(s.students))

	for i, session := range s.students {
		wg.Add(1)
		go func(i int, session string) {
			defer wg.Done()
			<-start

			began := time.Now()
			_, status, _ := s.postJSON(ctx, "/api/cases/confirm-claim", session, map[string]any{"token": *token})
			s.claims.Record(time.Since(began), status)
			if status >= 200 && status < 300 {
				wins[i] = 1
			}
		}(i, session)
	}

	close(start)
	wg.Wait()

	winners := 0
	for _, w := range wins {
		winners += w
	}
	log.Printf("round %d: case %s, %d claimers, %d winner(s)", round, submitResp.ID, len(s.students), winners)
	if winners != 1 {
		return fmt.Errorf("MUTUAL EXCLUSION VIOLATED: %d winners for case %s", winners, submitResp.ID)
	}

	return nil
}

func (s *Simulator) printReport() {
	avg, p50, p95, max := s.claims.Stats()
	log.Printf("confirm-claim: total=%d success=%d conflict=%d error=%d",
		s.claims.Total, s.claims.Success, s.claims.Conflict, s.claims.Error)
	log.Printf("latency: avg=%s p50=%s p95=%s max=%s", avg, p50, p95, max)
}

// postJSON posts a body and returns any "token" field plus the status
// code; non-2xx responses become errors.
func (s *Simulator) postJSON(ctx context.Context, path, session string, body any) (string, int, error) {
	var out struct {
		Token string `json:"token"`
	}
	status, err := s.do(ctx, path, session, body, &out)
	return out.Token, status, err
}

func (s *Simulator) postInto(ctx context.Context, path, session string, body, out any) error {
	_, err := s.do(ctx, path, session, body, out)
	return err
}

func (s *Simulator) do(ctx context.Context, path, session string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	return resp.StatusCode, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
