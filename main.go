package main

import (
	"github.com/joho/godotenv"

	"github.com/dmeworks/schemashift/cmd"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cmd.Execute()
}
