package main

import (
	"log"

	"github.com/joho/godotenv"

	"courier/cmd/internal/app"
)

func main() {
	// Local development convenience; in deployment the environment is
	// injected and no .env file exists.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
