// Package initcmder provides the init command for initializing a local
// .aistream directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/QuietCraftsmanship/AI/pkg/config"
)

const (
	dirName = ".aistream"
)

const initLongDesc string = `Initialize a new .aistream/ directory in the current working directory.

Creates a local .aistream/ directory that takes precedence over the default
~/.aistream/ directory for configuration and storage.

With --preset, a config.toml preconfigured for the named provider is written
into the new directory. An existing config.toml is never overwritten.

Examples:
  aistream init
  aistream init --preset anthropic`

const initShortDesc string = "Initialize a local .aistream/ directory"

type initCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "", fmt.Sprintf("Provider preset for config.toml %v", config.ValidPresetNames()))

	return cmd
}

func (c *initCommander) run(w io.Writer) error {
	var preset *config.Config
	if c.preset != "" {
		var err error
		preset, err = config.PresetConfig(c.preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .aistream directory: %w", err)
		}
		fmt.Fprintf(w, "Initialized .aistream directory: %s\n", dir)
	}

	if preset == nil {
		return nil
	}

	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	switch {
	case err == nil:
		fmt.Fprintf(w, "Keeping existing config.toml\n")
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading config: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfger.SaveConfig(preset); err != nil {
		return err
	}

	fmt.Fprintf(w, "Wrote %s preset to %s\n", c.preset, cfger.GetTarget())
	return nil
}
