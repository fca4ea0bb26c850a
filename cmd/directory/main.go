package main

import (
	"log"

	"github.com/MrSnakeDoc/directory/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ directory failed to start: %v", err)
	}
}
