package main

import (
	"fmt"
	"os"

	servecmder "github.com/QuietCraftsmanship/AI/cmd/aistream/serve"
)

func main() {
	cmd := servecmder.NewServeCmd()

	cmd.Use = "aistreamprox"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aistream/ config directory")

	err := cmd.Execute()
	if err != nil {
		fmt.Printf("Error executing root command: %v\n", err)
		os.Exit(1)
	}
}
