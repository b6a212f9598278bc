package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexdental/case-coordinator/internal/db"
	"github.com/alexdental/case-coordinator/internal/dentalcase"
)

// Seeds demo students and cases for local development. Every student
// gets the same password so the simulator can log them in.
const seedPassword = "password123!"

var dentalProblems = []string{
	"Root canal treatment",
	"Tooth extraction",
	"Scaling and cleaning",
	"Removable dentures",
	"Cosmetic fillings",
	"Gum treatment",
	"Full denture",
	"Orthodontics",
}

var chronicDiseases = []string{
	"Heart disease",
	"Diabetes",
	"Hypertension",
	"Liver disease",
	"Kidney disease",
	"Respiratory disease",
	"Bleeding disorders",
	"Drug allergies",
}

var districts = []string{
	"Miami", "Sidi Bishr", "Smouha", "Sporting", "Glim",
	"Victoria", "San Stefano", "Mansheya", "Agami", "Montaza",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolSettings{DSN: dsn})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedStudents(context.Background(), pool, 40); err != nil {
		log.Fatalf("seed students: %v", err)
	}
	if err := seedCases(context.Background(), pool, 120); err != nil {
		log.Fatalf("seed cases: %v", err)
	}

	log.Println("seed complete")
}

func seedStudents(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d students", count)

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := "ST-" + gofakeit.DigitN(5)
		status := dentalcase.StudentApproved
		if i%5 == 0 {
			status = dentalcase.StudentPending
		}

		chatID := int64(100000 + i)

		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, full_name, university_id, email, password_hash,
				status, telegram_chat_id, terms_accepted, liability_accepted,
				consented_at, registered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true, true, now(), now())
			ON CONFLICT (id) DO NOTHING
		`, id, gofakeit.Name(), gofakeit.DigitN(8), gofakeit.Email(), string(hash),
			status, chatID)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("students seeded")
	return nil
}

func seedCases(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d cases", count)

	genders := []string{"male", "female"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := "CS-" + gofakeit.DigitN(4)

		problems := []string{
			dentalProblems[gofakeit.Number(0, len(dentalProblems)-1)],
		}
		var history []string
		if gofakeit.Bool() {
			history = append(history, chronicDiseases[gofakeit.Number(0, len(chronicDiseases)-1)])
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO cases (id, full_name, phone, age, gender, district, problems,
				medical_history, medical_notes, medical_history_declared,
				additional_notes, status, submitted_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, 'RECEIVED', now(), now())
			ON CONFLICT (id) DO NOTHING
		`, id, gofakeit.Name(), gofakeit.Phone(),
			gofakeit.Number(18, 80),
			genders[gofakeit.Number(0, 1)],
			districts[gofakeit.Number(0, len(districts)-1)],
			problems, history,
			gofakeit.Sentence(6), gofakeit.Sentence(8))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("cases seeded")
	return nil
}
