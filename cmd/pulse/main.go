package main

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/vango-dev/pulse/internal/config"
	"github.com/vango-dev/pulse/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬ ┬┬  ┌─┐┌─┐
  ├─┘│ ││  └─┐├┤
  ┴  └─┘┴─┘└─┘└─┘
`

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Reactive values persisted across processes",
		Long: `Pulse keeps reactive values in sync with a storage backend.

Values live under string keys in a local directory, an S3 bucket or a
pulse hub, and every process watching a key sees changes made by the
others. Commands:

  • serve    run a hub other processes can share
  • get/set  read and write raw values
  • watch    print a value every time it changes
  • cart     a small shopping-cart demo`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default: pulse.toml or pulse.json in the working directory)")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		serveCmd(&flags),
		getCmd(&flags),
		setCmd(&flags),
		deleteCmd(&flags),
		watchCmd(&flags),
		cartCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and installs the logger it asks for.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel()
	if flags.debug {
		level = slog.LevelDebug
	}
	initLogger(level)

	return cfg, nil
}

func initLogger(level slog.Level) {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level: level,
	})))
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// printError prints err, using the structured layout for pulse errors.
func printError(err error) {
	var pe *errors.PulseError
	if stderrors.As(err, &pe) {
		fmt.Fprint(os.Stderr, pe.Format())
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), err)
}
