package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/atotto/clipboard"
	"golang.org/x/term"

	"github.com/lthms/taxon/internal/rest"
	"github.com/lthms/taxon/internal/store"
	"github.com/lthms/taxon/internal/taxonomy"
)

// CLI is the top-level command structure for taxon.
type CLI struct {
	Debug   bool   `env:"TAXON_DEBUG" help:"Enable debug logging."`
	Config  string `env:"TAXON_CONFIG" type:"path" help:"Config file (default ~/.config/taxon/config)."`
	User    string `env:"TAXON_USER" help:"Override user.id from the config."`
	Backend string `env:"TAXON_BACKEND" help:"Override backend.kind (sqlite or rest)."`

	Explore ExploreCmd `cmd:"" default:"1" help:"Browse and edit the taxonomy interactively."`
	Tree    TreeCmd    `cmd:"" help:"Print the taxonomy tree."`
	Tags    TagsCmd    `cmd:"" help:"Manage tags."`
	Search  SearchCmd  `cmd:"" help:"Search categories, subcategories and tags by name."`
	Import  ImportCmd  `cmd:"" help:"Merge a YAML seed into the taxonomy."`
	Export  ExportCmd  `cmd:"" help:"Write the taxonomy as a YAML seed."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve the taxonomy over MCP on stdio."`
}

// gatewayOpener connects to the configured backend. The returned func
// releases it.
type gatewayOpener func(cfg *Config) (taxonomy.Gateway, func() error, error)

// appEnv is what every subcommand runs against.
type appEnv struct {
	cfg         *Config
	in          io.Reader
	out         io.Writer
	openGateway gatewayOpener
}

func openGateway(cfg *Config) (taxonomy.Gateway, func() error, error) {
	switch cfg.Backend.Kind {
	case backendREST:
		c, err := rest.New(rest.Config{
			URL:         cfg.Backend.URL,
			APIKey:      cfg.Backend.APIKey,
			AccessToken: cfg.Backend.AccessToken,
			Logger:      slog.Default(),
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	case backendSQLite:
		path, err := cfg.dbPath()
		if err != nil {
			return nil, nil, err
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("opened local store", "path", path)
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
}

// session is an open gateway plus the orchestrator built on it.
type session struct {
	gw    taxonomy.Gateway
	orch  *taxonomy.Orchestrator
	close func() error
}

func (a *appEnv) open(notifier taxonomy.Notifier, clip taxonomy.Clipboard) (*session, error) {
	gw, closeFn, err := a.openGateway(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", a.cfg.Backend.Kind, err)
	}
	orch, err := taxonomy.New(taxonomy.Config{
		Gateway:   gw,
		UserID:    a.cfg.User.ID,
		Notifier:  notifier,
		Clipboard: clip,
		Logger:    slog.Default(),
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	return &session{gw: gw, orch: orch, close: closeFn}, nil
}

// styled reports whether output goes to a terminal and may carry colors.
func (a *appEnv) styled() bool {
	f, ok := a.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func systemClipboard(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard utility found")
	}
	return clipboard.WriteAll(text)
}

func newAppEnv(cli *CLI) (*appEnv, error) {
	path := cli.Config
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.override(cli.User, cli.Backend)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Debug("config loaded", "path", path, "backend", cfg.Backend.Kind, "user", cfg.User.ID)
	return &appEnv{cfg: cfg, in: os.Stdin, out: os.Stdout, openGateway: openGateway}, nil
}

func main() {
	cli := CLI{}
	parser, err := kong.New(&cli,
		kong.Name("taxon"),
		kong.Description("Explore and curate a category, subcategory and tag taxonomy."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			os.Exit(code)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taxon: %v\n", err)
		os.Exit(1)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	setupLogger(cli.Debug)

	app, err := newAppEnv(&cli)
	ctx.FatalIfErrorf(err)
	ctx.Bind(app)

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// setupFileLogger redirects slog to a file at debug level.
func setupFileLogger(path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		slog.Warn("failed to open log file, keeping stderr", "path", path, "error", err)
		return
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)
}
