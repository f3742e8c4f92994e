package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ggonzalez94/dustsweep/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file in the working directory may carry DUST_* keys.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(2)
	}
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
