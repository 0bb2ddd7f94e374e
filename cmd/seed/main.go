// seed starts a sample brew day for a dev user and prints a token to drive it.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/internal/domain"
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/golang-jwt/jwt/v5"
)

const seedUser = "seed-brewer"

// A single-infusion stout: mash and the strike-water timer run side by side,
// then a 60 minute boil with hop additions every 15 minutes.
var steps = []domain.Step{
	{Name: "Heat strike water", Type: domain.StepManual, Description: "Bring 18 l to 72 °C"},
	{Name: "Mash", Type: domain.StepTimer, Duration: 60, Concurrent: true, Description: "Hold at 66 °C"},
	{Name: "Sparge water", Type: domain.StepTimer, Duration: 45, Concurrent: true, Description: "Heat 12 l to 76 °C"},
	{Name: "Lauter", Type: domain.StepManual},
	{Name: "Boil", Type: domain.StepTimer, Duration: 60, SplitInterval: 4, Description: "Hop additions every 15 minutes"},
	{Name: "Chill and pitch", Type: domain.StepManual},
	{Name: "Primary fermentation", Type: domain.StepCalendar, Duration: 14},
	{Name: "Bottle conditioning", Type: domain.StepCalendar, Duration: 21},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	pool, err := postgres.NewPool(ctx, dbURL, logger)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	batches := usecase.NewBatchUsecase(postgres.NewBatchRepository(pool, logger))
	b, err := batches.StartBatch(ctx, usecase.StartBatchInput{
		UserID:     seedUser,
		RecipeName: "Seed Stout",
		Steps:      steps,
	})
	if err != nil {
		log.Fatalf("start batch: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  User ID:  %s\n", seedUser)
	fmt.Printf("  Batch ID: %s\n", b.ID)
	fmt.Printf("  Steps:    %d\n", len(b.Process.Schedule))
	fmt.Println()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Println("  JWT_SECRET is not set, skipping token")
		return
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   seedUser,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println("How to test:")
	fmt.Println()
	fmt.Printf("    export JWT=%s\n", token)
	fmt.Println()
	fmt.Println("  Open the batch and follow it live:")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/batches/%s/open -H \"Authorization: Bearer $JWT\"\n", b.ID)
	fmt.Printf("    curl -N http://localhost:8080/batches/%s/events -H \"Authorization: Bearer $JWT\"\n", b.ID)
	fmt.Println()
	fmt.Println("  Complete the first step, then start the mash timer (ids from /timers):")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/batches/%s/steps/complete -H \"Authorization: Bearer $JWT\"\n", b.ID)
	fmt.Printf("    curl -s http://localhost:8080/batches/%s/timers -H \"Authorization: Bearer $JWT\"\n", b.ID)
	fmt.Println("    curl -s -X POST http://localhost:8080/timers/TIMER_ID/start -H \"Authorization: Bearer $JWT\"")
}
