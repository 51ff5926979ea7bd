package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "remotecpp",
		Short: "Browse, search and build a C++ project on a remote host",
		Long: `remotecpp runs list, grep and build commands on a remote host over ssh,
keeps an index of the remote file tree and resolves header/implementation
and #include targets against it.

Editors drive it through "remotecpp serve", which speaks JSON lines on
stdin and stdout. The other commands run one operation from a terminal.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $REMOTECPP_CONFIG or ~/.config/remotecpp/config.*)")
	rootCmd.PersistentFlags().String("root", "", "Project root on the remote host (overrides config)")
	rootCmd.PersistentFlags().String("host", "", "Remote host (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	// Editor Commands
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON-lines host protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  RunServe,
	}
	serveCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9464)")

	// Job Commands
	listCmd := &cobra.Command{
		Use:     "ls [prefix]",
		Aliases: []string{"list"},
		Short:   "List remote files and refresh the index",
		Args:    cobra.MaximumNArgs(1),
		RunE:    RunList,
	}
	listCmd.Flags().String("dir", "", "Directory to list (default: project root)")
	listCmd.Flags().Bool("json", false, "Print machine-readable job summary")

	grepCmd := &cobra.Command{
		Use:   "grep <pattern>",
		Short: "Search the remote project",
		Args:  cobra.ExactArgs(1),
		RunE:  RunGrep,
	}
	grepCmd.Flags().String("from", "", "File the search starts from (used with working_dir = file)")
	grepCmd.Flags().Bool("json", false, "Print machine-readable job summary with matches")

	buildCmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Run the build command on the remote host",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunBuild,
	}
	buildCmd.Flags().String("from", "", "File the build starts from (used with working_dir = file)")
	buildCmd.Flags().Bool("json", false, "Print machine-readable job summary with diagnostics")

	execCmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run an arbitrary command on the remote host",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunExec,
	}
	execCmd.Flags().String("dir", "", "Working directory (default: project root)")
	execCmd.Flags().Bool("json", false, "Print machine-readable job summary with diagnostics")

	// Navigate Commands
	toggleCmd := &cobra.Command{
		Use:   "toggle <path>",
		Short: "Find the header or implementation counterpart of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  RunToggle,
	}
	toggleCmd.Flags().Bool("json", false, "Print machine-readable resolution")

	includeCmd := &cobra.Command{
		Use:   "include <path> [literal]",
		Short: "Resolve an #include written in a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  RunInclude,
	}
	includeCmd.Flags().Int("line", 0, "Resolve the directive on this 1-based line instead of a literal")
	includeCmd.Flags().Bool("json", false, "Print machine-readable resolution")

	findCmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Fuzzy-find indexed files",
		Args:  cobra.ExactArgs(1),
		RunE:  RunFind,
	}
	findCmd.Flags().Int("limit", 20, "Maximum number of results")
	findCmd.Flags().Bool("json", false, "Print machine-readable results")

	// File Commands
	openCmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Download a remote file into the local mirror and print its local path",
		Args:  cobra.ExactArgs(1),
		RunE:  RunOpen,
	}
	openCmd.Flags().Bool("refresh", false, "Download even when a local copy exists")
	openCmd.Flags().Bool("json", false, "Print machine-readable result")

	pushCmd := &cobra.Command{
		Use:   "push <local-path>",
		Short: "Upload a mirrored file back to the remote host",
		Args:  cobra.ExactArgs(1),
		RunE:  RunPush,
	}
	pushCmd.Flags().Bool("json", false, "Print machine-readable result")

	newCmd := &cobra.Command{
		Use:   "new <path>",
		Short: "Create an empty remote file",
		Args:  cobra.ExactArgs(1),
		RunE:  RunNewFile,
	}
	newCmd.Flags().Bool("json", false, "Print machine-readable result")

	rmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE:  RunRemove,
	}
	rmCmd.Flags().Bool("json", false, "Print machine-readable result")

	mvCmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE:  RunMove,
	}
	mvCmd.Flags().Bool("json", false, "Print machine-readable result")

	// Maintenance Commands
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear persisted state",
	}
	stateShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Describe the state file",
		Args:  cobra.NoArgs,
		RunE:  RunStateShow,
	}
	stateShowCmd.Flags().Bool("json", false, "Print machine-readable state summary")
	stateClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the state file and the local mirror",
		Args:  cobra.NoArgs,
		RunE:  RunStateClear,
	}
	stateClearCmd.Flags().Bool("keep-mirror", false, "Keep downloaded files")
	stateClearCmd.Flags().Bool("all", false, "Remove the mirrors of every project")
	stateCmd.AddCommand(stateShowCmd, stateClearCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or show configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunConfigInit,
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  RunConfigShow,
	}
	configShowCmd.Flags().Bool("json", false, "Print as JSON")
	configCmd.AddCommand(configInitCmd, configShowCmd)

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check ssh tooling, remote connectivity and state health",
		Args:  cobra.NoArgs,
		RunE:  RunDoctor,
	}
	doctorCmd.Flags().Bool("json", false, "Print machine-readable doctor output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "remotecpp %s\n", version)
		},
	}

	rootCmd.AddCommand(
		serveCmd,
		listCmd,
		grepCmd,
		buildCmd,
		execCmd,
		toggleCmd,
		includeCmd,
		findCmd,
		openCmd,
		pushCmd,
		newCmd,
		rmCmd,
		mvCmd,
		stateCmd,
		configCmd,
		doctorCmd,
		versionCmd,
	)

	return rootCmd
}
