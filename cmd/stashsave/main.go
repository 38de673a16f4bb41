package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/stashsave/internal/config"
	"github.com/pders01/stashsave/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	configPath string
	dbPath     string
	logLevel   string
	quiet      bool
	topK       int

	rootCmd = &cobra.Command{
		Use:   "stashsave",
		Short: "Semantic search over your GitHub stars",
		Long: `stashsave connects your GitHub account through the identity service,
imports your starred repositories into the search backend and lets you
query them in natural language from the terminal.`,
		SilenceUsage: true,
		RunE:         runTUI,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stashsave %s\n", Version)
			fmt.Println("Semantic search for your GitHub stars")
			fmt.Println("github.com/pders01/stashsave")
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configGenCmd = &cobra.Command{
		Use:   "generate",
		Short: "Write the default configuration to ~/.config/stashsave/config.toml",
		Run: func(cmd *cobra.Command, args []string) {
			home, _ := os.UserHomeDir()
			configFile := filepath.Join(home, ".config", "stashsave", "config.toml")

			if err := config.GenerateDefaultConfig(configFile); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Generated default configuration at: %s\n", configFile)
		},
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Connect your GitHub account in the browser",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Import your starred repositories into the search backend",
		Args:  cobra.NoArgs,
		RunE:  runImport,
	}

	searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search your starred repositories without the TUI",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show backend health, session and last import",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to database file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error, off (overrides config)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Skip startup banner")
	searchCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (1-10, defaults to search.default_top_k)")

	configCmd.AddCommand(configGenCmd)
	rootCmd.AddCommand(versionCmd, configCmd, loginCmd, logoutCmd, importCmd, searchCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	if !quiet {
		tui.ShowBanner(Version)
	}

	rt, err := newServices(commandContext(cmd))
	if err != nil {
		return err
	}
	defer rt.Close()

	app := tui.NewApp(rt.cfg, tui.Deps{
		Coordinator: rt.coord,
		Sessions:    rt.sessions,
		Health:      rt.api,
		History:     rt.store,
		Opener:      rt.launcher,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
