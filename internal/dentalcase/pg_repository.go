package dentalcase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const caseColumns = `id, full_name, phone, age, gender, district, problems,
	medical_history, medical_notes, medical_history_declared, additional_notes,
	status, assigned_student_id, claim_token, broadcast_chat_id,
	broadcast_message_id, submitted_at, updated_at`

// Helpers

func scanCase(row pgx.Row) (*Case, error) {
	var c Case

	err := row.Scan(
		&c.ID,
		&c.FullName,
		&c.Phone,
		&c.Age,
		&c.Gender,
		&c.District,
		&c.Problems,
		&c.MedicalHistory,
		&c.MedicalNotes,
		&c.MedicalHistoryDeclared,
		&c.AdditionalNotes,
		&c.Status,
		&c.AssignedStudentID,
		&c.ClaimToken,
		&c.BroadcastChatID,
		&c.BroadcastMessageID,
		&c.SubmittedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student

	err := row.Scan(
		&s.ID,
		&s.FullName,
		&s.UniversityID,
		&s.Email,
		&s.PasswordHash,
		&s.Status,
		&s.TelegramChatID,
		&s.TermsAccepted,
		&s.LiabilityAccepted,
		&s.ConsentedAt,
		&s.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) scanCases(rows pgx.Rows) ([]Case, error) {
	defer rows.Close()

	var result []Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Cases

func (r *PgRepository) CreateCase(ctx context.Context, c *Case) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cases (id, full_name, phone, age, gender, district, problems,
			medical_history, medical_notes, medical_history_declared,
			additional_notes, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, c.ID, c.FullName, c.Phone, c.Age, c.Gender, c.District, c.Problems,
		c.MedicalHistory, c.MedicalNotes, c.MedicalHistoryDeclared,
		c.AdditionalNotes, c.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert case: %w", err)
	}

	return nil
}

func (r *PgRepository) GetCaseByID(ctx context.Context, id string) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE id = $1
	`, id)
	return scanCase(row)
}

func (r *PgRepository) GetCaseByClaimToken(ctx context.Context, token string) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE claim_token = $1
	`, token)
	return scanCase(row)
}

func (r *PgRepository) ListCases(ctx context.Context) ([]Case, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		ORDER BY submitted_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return r.scanCases(rows)
}

func (r *PgRepository) ListCasesByStudent(ctx context.Context, studentID string) ([]Case, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE assigned_student_id = $1
		ORDER BY submitted_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	return r.scanCases(rows)
}

func (r *PgRepository) PublishCase(ctx context.Context, id string, token *string, from CaseStatus) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cases
		SET status = $3,
		    claim_token = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+caseColumns+`
	`, id, from, StatusSentToStudents, token)

	return scanCase(row)
}

// ClaimCase is the single atomic compare-and-set every concurrent
// claim funnels through. Zero rows affected means someone else won.
func (r *PgRepository) ClaimCase(ctx context.Context, id, token, studentID string, to CaseStatus) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cases
		SET status = $4,
		    assigned_student_id = $3,
		    claim_token = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		  AND claim_token = $2
		RETURNING `+caseColumns+`
	`, id, token, studentID, to, StatusSentToStudents)

	return scanCase(row)
}

func (r *PgRepository) ClaimCaseByID(ctx context.Context, id, studentID string, to CaseStatus) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cases
		SET status = $3,
		    assigned_student_id = $2,
		    claim_token = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+caseColumns+`
	`, id, studentID, to, StatusSentToStudents)

	return scanCase(row)
}

func (r *PgRepository) ReleaseCase(ctx context.Context, id string, freshToken *string) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cases
		SET status = $3,
		    assigned_student_id = NULL,
		    claim_token = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+caseColumns+`
	`, id, freshToken, StatusSentToStudents, StatusWaitingAdminApproval)

	return scanCase(row)
}

func (r *PgRepository) UpdateCaseStatus(ctx context.Context, id string, from, to CaseStatus) (*Case, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cases
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+caseColumns+`
	`, id, to, from)

	return scanCase(row)
}

func (r *PgRepository) ClearClaimToken(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cases
		SET claim_token = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear claim token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}

	return nil
}

func (r *PgRepository) SetBroadcastRef(ctx context.Context, id string, chatID, messageID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cases
		SET broadcast_chat_id = $2,
		    broadcast_message_id = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, chatID, messageID)
	if err != nil {
		return fmt.Errorf("set broadcast ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}

	return nil
}

func (r *PgRepository) DeleteCase(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}

	return nil
}

// Events

func (r *PgRepository) AppendCaseEvent(ctx context.Context, ev CaseEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO case_events (case_id, status, note, created_at)
		VALUES ($1, $2, $3, now())
	`, ev.CaseID, ev.Status, ev.Note)
	if err != nil {
		return fmt.Errorf("insert case event: %w", err)
	}

	return nil
}

func (r *PgRepository) ListCaseEvents(ctx context.Context, caseID string) ([]CaseEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, status, note, created_at
		FROM case_events
		WHERE case_id = $1
		ORDER BY id
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CaseEvent
	for rows.Next() {
		var ev CaseEvent
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.Status, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Students

const studentColumns = `id, full_name, university_id, email, password_hash,
	status, telegram_chat_id, terms_accepted, liability_accepted,
	consented_at, registered_at`

func (r *PgRepository) CreateStudent(ctx context.Context, s *Student) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO students (id, full_name, university_id, email, password_hash,
			status, telegram_chat_id, terms_accepted, liability_accepted,
			consented_at, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	`, s.ID, s.FullName, s.UniversityID, s.Email, s.PasswordHash,
		s.Status, s.TelegramChatID, s.TermsAccepted, s.LiabilityAccepted,
		s.ConsentedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "students_email_key" {
				return ErrEmailTaken
			}
			return ErrDuplicateID
		}
		return fmt.Errorf("insert student: %w", err)
	}

	return nil
}

func (r *PgRepository) GetStudentByID(ctx context.Context, id string) (*Student, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE id = $1
	`, id)
	return scanStudent(row)
}

func (r *PgRepository) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE email = $1
	`, email)
	return scanStudent(row)
}

func (r *PgRepository) GetStudentByTelegramChatID(ctx context.Context, chatID int64) (*Student, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE telegram_chat_id = $1
	`, chatID)
	return scanStudent(row)
}

func (r *PgRepository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+studentColumns+`
		FROM students
		ORDER BY registered_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateStudentStatus(ctx context.Context, id string, to StudentStatus) (*Student, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE students
		SET status = $2
		WHERE id = $1
		RETURNING `+studentColumns+`
	`, id, to)

	return scanStudent(row)
}

func (r *PgRepository) DeleteStudent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStudentNotFound
	}

	return nil
}
