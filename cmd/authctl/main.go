package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/goliatone/go-auth-chain/activitymap"
	"github.com/goliatone/go-auth-chain/adapters/redislimit"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const usage = `authctl manages identities and tokens.

Usage:
  authctl [global flags] <command> [flags]

Commands:
  migrate          create tables and indexes
  register         register an identity
  login            authenticate with email and password, optionally issuing a token
  issue-autologin  create a one-time autologin token and link
  bump-version     raise the minimum accepted access token version
  revoke           revoke an access token
  device           generate a device token or list its identities

Global flags:
`

type app struct {
	db     *bun.DB
	repos  auth.RepositoryManager
	authn  *auth.Authenticator
	logger glog.Logger
}

func main() {
	// best effort, the real environment wins
	_ = godotenv.Load()

	global := flag.NewFlagSet("authctl", flag.ExitOnError)
	dsn := global.String("dsn", envOr("AUTH_DATABASE_DSN", "file:authctl.db?cache=shared"), "database DSN, postgres:// selects postgres")
	redisAddr := global.String("redis", os.Getenv("AUTH_REDIS_ADDR"), "redis address for the rate limit counter")
	debug := global.Bool("debug", false, "verbose logging")
	global.Usage = func() {
		fmt.Fprint(global.Output(), usage)
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])

	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := newLogger(*debug)
	logger := base.GetLogger("authctl")

	a, err := newApp(*dsn, *redisAddr, base, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.db.Close()

	if err := a.run(ctx, global.Arg(0), global.Args()[1:]); err != nil {
		logger.Error("command failed", "command", global.Arg(0), "kind", string(auth.ErrorKind(err)), "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *glog.BaseLogger {
	if debug {
		return glog.NewLogger(
			glog.WithName("authctl"),
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithName("authctl"),
		glog.WithLoggerTypePretty(),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

func newApp(dsn, redisAddr string, provider auth.LoggerProvider, logger glog.Logger) (*app, error) {
	cfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}

	repos := auth.NewRepositoryManager(db)

	activity := provider.GetLogger("authctl.activity")
	opts := []auth.Option{
		auth.WithLoggerProvider(provider),
		auth.WithEventSink(activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
			activity.Info(record.Verb, "actor", record.ActorID, "object", record.ObjectID, "metadata", record.Metadata)
			return nil
		})),
	}
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		opts = append(opts, auth.WithAttemptCounter(redislimit.NewCounter(client)))
	}

	authn, err := auth.NewAuthenticator(repos, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{db: db, repos: repos, authn: authn, logger: logger}, nil
}

func openDB(dsn string) (*bun.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pgcfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid postgres DSN")
		}
		return bun.NewDB(stdlib.OpenDB(*pgcfg), pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		if err := auth.CreateSchema(ctx, a.db); err != nil {
			return err
		}
		a.logger.Info("schema ready")
		return nil
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "issue-autologin":
		return a.issueAutologin(ctx, args)
	case "bump-version":
		version, err := a.authn.BumpTokenVersion(ctx)
		if err != nil {
			return err
		}
		return output(map[string]any{"min_token_version": version})
	case "revoke":
		return a.revoke(ctx, args)
	case "device":
		return a.device(ctx, args)
	default:
		return goerrors.New(fmt.Sprintf("unknown command %q", command), goerrors.CategoryBadInput)
	}
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password, empty for none")
	unclaimed := fs.Bool("unclaimed", false, "create a placeholder identity")
	role := fs.String("role", string(auth.RoleUser), "role")
	ip := fs.String("ip", "127.0.0.1", "requester IP")
	_ = fs.Parse(args)

	res, err := a.authn.RegisterIdentity(ctx, auth.RegistrationRequest{
		Email:     *email,
		Password:  *password,
		Unclaimed: *unclaimed,
		Role:      auth.Role(*role),
		Source:    "cli",
		IP:        *ip,
		UserAgent: "authctl",
	})
	if err != nil {
		return err
	}
	return output(map[string]any{
		"identity": res.Identity,
		"created":  res.Created,
		"promoted": res.Promoted,
	})
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	ip := fs.String("ip", "127.0.0.1", "requester IP")
	device := fs.String("device", "", "device token to pair the access token with")
	issue := fs.Bool("issue", true, "issue an access token")
	_ = fs.Parse(args)

	res, err := a.authn.Authenticate(ctx, auth.Credentials{
		Email:       *email,
		Password:    *password,
		IP:          *ip,
		Source:      "cli",
		DeviceToken: *device,
		IssueToken:  *issue,
	})
	if err != nil {
		return err
	}
	return output(res)
}

func (a *app) issueAutologin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("issue-autologin", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	_ = fs.Parse(args)

	identity, err := a.repos.Identities().FindByEmail(ctx, *email)
	if err != nil {
		return auth.ErrIdentityNotFound
	}

	token, link, err := a.authn.IssueAutologin(ctx, identity)
	if err != nil {
		return err
	}
	return output(map[string]any{"token": token, "link": link})
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	token := fs.String("token", "", "access token")
	_ = fs.Parse(args)

	if err := a.authn.SignOut(ctx, *token); err != nil {
		return err
	}
	a.logger.Info("token revoked")
	return nil
}

func (a *app) device(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("device", flag.ExitOnError)
	id := fs.String("id", "", "generate a token for this device id")
	token := fs.String("token", "", "list identities paired with this device token")
	claimed := fs.Bool("claimed", false, "only claimed identities")
	_ = fs.Parse(args)

	devices := a.authn.Devices()
	if *token == "" {
		generated, err := devices.Generate(ctx, *id)
		if err != nil {
			return err
		}
		return output(generated)
	}

	found, err := devices.FindByToken(ctx, *token)
	if err != nil {
		return err
	}

	var identities []*auth.Identity
	if *claimed {
		identities, err = devices.ClaimedIdentitiesOf(ctx, found)
	} else {
		identities, err = devices.IdentitiesOf(ctx, found)
	}
	if err != nil {
		return err
	}
	return output(map[string]any{"device": found, "identities": identities})
}

func output(v any) error {
	_, err := fmt.Fprintln(os.Stdout, print.MaybePrettyJSON(v))
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
