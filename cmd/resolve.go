package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/smazurov/lspvisor/internal/config"
)

// CreateResolveCmd creates the resolve command.
func CreateResolveCmd() *cobra.Command {
	var configFile string
	var folders []string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the launch spec the supervisor would use",
		Long: `Loads the [server] section, substitutes ${workspaceFolder} with the first workspace folder ` +
			`and prints the resulting command, arguments and working directory as TOML. Nothing is spawned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := resolveFile(configFile, folders)
			if err != nil {
				return err
			}
			out, err := toml.Marshal(spec)
			if err != nil {
				return fmt.Errorf("encode launch spec: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "lspvisor.toml", "Path to configuration file")
	cmd.Flags().StringSliceVar(&folders, "workspace", nil, "Workspace folders, overriding [workspace].folders")

	return cmd
}

func resolveFile(path string, folders []string) (config.LaunchSpec, error) {
	file, err := config.LoadFile(path)
	if err != nil {
		return config.LaunchSpec{}, err
	}
	if len(folders) == 0 {
		folders = file.Workspace.Folders
	}
	return config.Resolve(file.Server, config.RootsFunc(func() []string { return folders }))
}
