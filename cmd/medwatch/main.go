package main

import (
	"log"

	"github.com/medwatch/medwatch/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ medwatch failed to start: %v", err)
	}
}
