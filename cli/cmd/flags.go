// Package cmd provides CLI commands for the scanstream binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for the watch command.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (watch only)",
	}

	// ConfigFlag points at the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to scanstream.yaml config file",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error
// messages instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ServerFlags returns the flags every command that talks to the backend
// accepts. Flag values override the config file.
func ServerFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "API base URL",
			EnvVars: []string{"SCANSTREAM_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key sent in the apikey header",
			EnvVars: []string{"SCANSTREAM_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token for Authorization",
			EnvVars: []string{"SCANSTREAM_TOKEN"},
		},
	}
}
