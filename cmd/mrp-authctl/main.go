// Command mrp-authctl signs in to an MRP auth backend and inspects the stored session.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mrpworks/mrp-auth/config"
	"github.com/mrpworks/mrp-auth/internal/adapters/tokenstore"
	"github.com/mrpworks/mrp-auth/internal/bootstrap"
	"github.com/mrpworks/mrp-auth/internal/ports"
	"github.com/mrpworks/mrp-auth/internal/session"
)

func main() {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := a.rootCmd().ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command failure to the shell.
	}
}

// app carries what every subcommand shares. Streams and config loading are fields so
// tests can drive the commands without touching the real environment.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	loadConfig func() (config.AppConfig, error)

	apiURL     string
	tokenStore string
	tokenFile  string
	verbose    bool

	cfg    config.AppConfig
	logger *slog.Logger

	redis   redis.UniversalClient
	store   tokenstore.Store
	backend ports.Backend
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, loadConfig: bootstrap.LoadConfig}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mrp-authctl",
		Short:         "Sign in to MRP and inspect the current session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiURL, "api-url", "", "local API base URL (overrides CLIENT_API_BASE_URL)")
	flags.StringVar(&a.tokenStore, "token-store", "", "token store: memory, file or redis (overrides CLIENT_TOKEN_STORE)")
	flags.StringVar(&a.tokenFile, "token-file", "", "token file for the file store (overrides CLIENT_TOKEN_FILE)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.statusCmd(),
		a.watchCmd(),
		a.hashPasswordCmd(),
	)

	return root
}

func (a *app) setup() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.Client.APIBaseURL = a.apiURL
	}
	if a.tokenStore != "" {
		if err := cfg.Client.TokenStore.UnmarshalText([]byte(a.tokenStore)); err != nil {
			return err
		}
	}
	if a.tokenFile != "" {
		cfg.Client.TokenFile = a.tokenFile
	}
	cfg.Client.Sanitize()
	if a.verbose {
		cfg.Observability.LogLevel = "debug"
	}
	a.cfg = cfg
	a.logger = bootstrap.InitLoggerTo(a.errOut, cfg.Observability)
	return nil
}

// connect builds the token store and backend on first use. Redis is only dialed when
// the store lives there.
func (a *app) connect(ctx context.Context) error {
	if a.backend != nil {
		return nil
	}
	if a.cfg.Client.TokenStore == config.TokenStoreRedis && a.redis == nil {
		client, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{
			RedisConfig: a.cfg.Redis,
			Logger:      a.logger,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
	}

	store, err := bootstrap.BuildTokenStore(bootstrap.TokenStoreConfig{
		Client:      a.cfg.Client,
		RedisClient: a.redis,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	backend, err := bootstrap.BuildBackend(ctx, bootstrap.BackendConfig{
		Auth:   a.cfg.Auth,
		Client: a.cfg.Client,
		Store:  store,
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("auth backend: %w", err)
	}
	a.store = store
	a.backend = backend
	return nil
}

// startManager connects and returns a started session manager. The caller closes it.
func (a *app) startManager(ctx context.Context) (*session.Manager, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	m, err := session.NewManager(session.Options{
		Backend: a.backend,
		Store:   a.store,
		Events:  a.store,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *app) close() error {
	if a.redis == nil {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
