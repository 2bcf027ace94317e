package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wellnest/wellness-scheduling/internal/availability"
	"github.com/wellnest/wellness-scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	professionals, err := seedProfessionals(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedServices(context.Background(), pool, professionals); err != nil {
		log.Fatalf("seed services: %v", err)
	}

	log.Println("seed complete")
}

func seedProfessionals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d professionals", count)

	specialties := []string{
		"General Practice",
		"Nutrition",
		"Psychology",
		"Physiotherapy",
		"Personal Training",
		"Dermatology",
		"Cardiology",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO professionals (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("professionals seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, professionals []uuid.UUID) error {
	log.Printf("seeding services for %d professionals", len(professionals))

	durations := []int{30, 45, 60}
	modes := []string{"in_person", "virtual"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, professionalID := range professionals {
		// One grid-based service and one with hand-picked windows each.
		for i := 0; i < 2; i++ {
			id := uuid.New()
			slug := gofakeit.Slogan()
			duration := durations[gofakeit.Number(0, len(durations)-1)]
			price := gofakeit.Number(20, 120) * 100
			mode := modes[gofakeit.Number(0, 1)]

			var address *string
			if mode == "in_person" {
				a := gofakeit.Address().Address
				address = &a
			}

			av := availability.Availability{
				Type: availability.ScheduleSame,
				Days: []availability.Weekday{
					availability.Monday,
					availability.Wednesday,
					availability.Friday,
				},
			}
			if i == 1 {
				av.Windows = []availability.Window{
					{Start: "09:00", End: availability.FromMinutes(9*60 + duration)},
					{Start: "16:00", End: availability.FromMinutes(16*60 + duration)},
				}
			}

			rawAv, err := json.Marshal(av)
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO services (id, professional_id, slug, duration_min, price_cents, mode, address, active, availability, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, now(), now())
			`, id, professionalID, slug, duration, price, mode, address, rawAv)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("services seeded")
	return nil
}
