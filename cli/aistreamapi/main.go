package main

import (
	"fmt"
	"os"

	apicmder "github.com/QuietCraftsmanship/AI/cmd/aistream/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()

	cmd.Use = "aistreamapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aistream/ config directory")

	if err := cmd.Execute(); err != nil {
		fmt.Printf("Error executing root command: %v\n", err)
		os.Exit(1)
	}
}
