package cli

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/spf13/cobra"
)

func RunConfigInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		dir, err := config.DefaultDir()
		if err != nil {
			return fmt.Errorf("failed to resolve config directory: %w", err)
		}
		path = filepath.Join(dir, "config.toml")
	}
	wrote, err := config.WriteDefault(path)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if wrote {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "next: set root and ssh.host, then run remotecpp doctor")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kept existing %s\n", path)
	return nil
}

// RunConfigShow prints the effective configuration after flag overrides.
func RunConfigShow(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	if asJSON {
		return fileutil.PrintJSON(cmd.OutOrStdout(), env.cfg)
	}
	data, err := toml.Marshal(env.cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if env.configPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", env.configPath)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
