// simulate fires N concurrent booking requests at the same slot and reports
// how many won. A correct deployment always reports exactly one success; the
// rest come back slot_taken or slot_being_booked.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wellnest/wellness-scheduling/internal/db"
)

type bookRequest struct {
	PatientID string `json:"patient_id"`
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Start     string `json:"start"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	baseURL := getEnv("API_BASE_URL", "http://localhost:8080")
	workers := getEnvInt("SIM_WORKERS", 25)
	serviceID := os.Getenv("SIM_SERVICE_ID")
	date := os.Getenv("SIM_DATE")
	start := os.Getenv("SIM_START")
	dsn := os.Getenv("POSTGRES_DSN")

	if serviceID == "" || date == "" || start == "" {
		log.Fatal("SIM_SERVICE_ID, SIM_DATE and SIM_START are required")
	}
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required (used to pick patients)")
	}

	patients, err := loadPatients(dsn, workers)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	if len(patients) < workers {
		log.Fatalf("need %d patients, found %d; run the seed first", workers, len(patients))
	}

	log.Printf("racing %d bookings for service=%s %s %s", workers, serviceID, date, start)

	client := &http.Client{Timeout: 10 * time.Second}

	var wins, conflicts, failures int64
	var wg sync.WaitGroup
	startGun := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			<-startGun

			status, code, err := book(client, baseURL, bookRequest{
				PatientID: patientID.String(),
				ServiceID: serviceID,
				Date:      date,
				Start:     start,
			})
			switch {
			case err != nil:
				atomic.AddInt64(&failures, 1)
				log.Printf("request error: %v", err)
			case status == http.StatusCreated:
				atomic.AddInt64(&wins, 1)
			case code == "slot_taken" || code == "slot_being_booked":
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&failures, 1)
				log.Printf("unexpected response: status=%d code=%s", status, code)
			}
		}(patients[i])
	}

	close(startGun)
	wg.Wait()

	fmt.Printf("wins=%d conflicts=%d failures=%d\n", wins, conflicts, failures)
	if wins != 1 {
		log.Fatalf("expected exactly 1 winning booking, got %d", wins)
	}
	log.Println("invariant held: exactly one booking won the slot")
}

func book(client *http.Client, baseURL string, req bookRequest) (status int, errCode string, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, "", err
	}

	resp, err := client.Post(baseURL+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, er.Error, nil
}

func loadPatients(dsn string, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
