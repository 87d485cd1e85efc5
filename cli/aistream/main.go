package main

import (
	"os"

	aistreamcmder "github.com/QuietCraftsmanship/AI/cmd/aistream"
)

func main() {
	cmd := aistreamcmder.NewAistreamCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
