// Package aistreamcmder
package aistreamcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/QuietCraftsmanship/AI/cmd/aistream/chat"
	configcmder "github.com/QuietCraftsmanship/AI/cmd/aistream/config"
	initcmder "github.com/QuietCraftsmanship/AI/cmd/aistream/init"
	roundscmder "github.com/QuietCraftsmanship/AI/cmd/aistream/rounds"
	servecmder "github.com/QuietCraftsmanship/AI/cmd/aistream/serve"
	versioncmder "github.com/QuietCraftsmanship/AI/cmd/version"
)

const aistreamLongDesc string = `aistream relays streamed model responses as text or multiplexed frames.

Run services using:
  aistream serve       Run the streaming proxy
  aistream chat        Chat through a running proxy
  aistream rounds      Browse recorded rounds
  aistream init        Initialize a local .aistream/ directory
  aistream config      Manage persistent configuration`

const aistreamShortDesc string = "aistream - streaming LLM proxy"

func NewAistreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aistream",
		Short: aistreamShortDesc,
		Long:  aistreamLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aistream/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(roundscmder.NewRoundsCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
