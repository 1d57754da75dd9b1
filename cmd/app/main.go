package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notesync/internal"
	"github.com/starford/notesync/internal/bridge"
	"github.com/starford/notesync/internal/mcpserver"
	pkgconfig "github.com/starford/notesync/pkg/config"
)

var version = "dev"

var errFailed = errors.New("command failed")

func serve(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if err := internal.Serve(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// facade initializes the bridge from the --config file.
func facade(cmd *cli.Command) (*bridge.Facade, error) {
	f := bridge.New()
	if out := f.InitApp(cmd.String("config")); bridge.IsError(out) {
		fmt.Fprintln(os.Stderr, out)
		return nil, errFailed
	}
	return f, nil
}

// client wraps a bridge call as a command action. The bridge output goes to
// stdout; an ERR result makes the command fail.
func client(call func(f *bridge.Facade, cmd *cli.Command) string) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		f, err := facade(cmd)
		if err != nil {
			return err
		}
		out := call(f, cmd)
		if bridge.IsError(out) {
			fmt.Fprintln(os.Stderr, out)
			return errFailed
		}
		fmt.Println(out)
		return nil
	}
}

func flagOption(cmd *cli.Command, flag, key string) string {
	if cmd.Bool(flag) {
		return key + "=yes"
	}
	return ""
}

func watch(ctx context.Context, cmd *cli.Command) error {
	f, err := facade(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return f.Watch(ctx, cmd.Duration("debounce"), func() {
		out := f.Save("")
		if bridge.IsError(out) {
			fmt.Fprintln(os.Stderr, out)
			return
		}
		fmt.Println(out)
	})
}

func serveMCP(_ context.Context, cmd *cli.Command) error {
	f, err := facade(cmd)
	if err != nil {
		return err
	}
	return mcpserver.New(f, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "notesync",
		Usage:   "Synchronize a local note cache with a remote note service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (yaml, toml or ini)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the note service",
				Action: serve,
			},
			{
				Name:  "download",
				Usage: "Refresh the local index and download changed notes",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "new-note", Usage: "Create a blank note afterwards"},
					&cli.BoolFlag{Name: "skip-download", Usage: "Refresh the index only"},
				},
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.Download(flagOption(cmd, "new-note", "new_note") + " " + flagOption(cmd, "skip-download", "skip_download"))
				}),
			},
			{
				Name:      "download-note",
				Usage:     "Download one note, replacing local changes",
				ArgsUsage: "<path|id>",
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.DownloadNote("", cmd.Args().First())
				}),
			},
			{
				Name:  "list",
				Usage: "List notes in the local index",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print a JSON document"},
				},
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					if cmd.Bool("json") {
						return f.List("format=json")
					}
					return f.List("")
				}),
			},
			{
				Name:  "new",
				Usage: "Create a local note and print its identifier",
				Action: client(func(f *bridge.Facade, _ *cli.Command) string {
					return f.NewNote("")
				}),
			},
			{
				Name:      "import",
				Usage:     "Create a note from a local file",
				ArgsUsage: "<file>",
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.ImportNote("", cmd.Args().First())
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a note; the next save removes it remotely",
				ArgsUsage: "<path|id>",
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.DeleteNote("", cmd.Args().First())
				}),
			},
			{
				Name:  "save",
				Usage: "Upload changed notes",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "notes-changed", Usage: "Scan the cache for edits first"},
				},
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.Save(flagOption(cmd, "notes-changed", "notes_changed"))
				}),
			},
			{
				Name:      "cat",
				Usage:     "Print a cached note",
				ArgsUsage: "<path|id>",
				Action: client(func(f *bridge.Facade, cmd *cli.Command) string {
					return f.ReadNote("", cmd.Args().First())
				}),
			},
			{
				Name:  "watch",
				Usage: "Save automatically when cached notes change",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "debounce", Value: 2 * time.Second, Usage: "Quiet period before saving"},
				},
				Action: watch,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the notes as MCP tools on stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, errFailed) {
			slog.Error("application error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
