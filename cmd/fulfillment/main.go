package main

import (
	"log"

	"github.com/Pritam499/e-commerce-sub001/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("fulfillment service failed: %v", err)
	}
}
