package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
	"github.com/go-pkgz/syncs"
	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/rootfsd/app/engine"
	"github.com/umputun/rootfsd/app/enums"
	"github.com/umputun/rootfsd/app/jobs"
	"github.com/umputun/rootfsd/app/journal"
	notifier "github.com/umputun/rootfsd/app/notify"
	"github.com/umputun/rootfsd/app/session"
	"github.com/umputun/rootfsd/app/store"
	"github.com/umputun/rootfsd/app/web"
)

var opts struct {
	ProjectsRoot string `short:"p" long:"projects" env:"ROOTFSD_PROJECTS" default:"/var/cache/rootfsd" description:"projects root directory"`
	Dbg          bool   `long:"dbg" env:"ROOTFSD_DEBUG" description:"debug mode"`

	Store struct {
		DSN           string `long:"dsn" env:"DSN" default:"rootfsd.db" description:"sqlite file or postgres:// connection string"`
		BcryptCost    int    `long:"bcrypt-cost" env:"BCRYPT_COST" default:"10" description:"password hashing cost"`
		AdminName     string `long:"admin-name" env:"ADMIN_NAME" default:"root" description:"initial admin user name"`
		AdminPassword string `long:"admin-password" env:"ADMIN_PASSWORD" description:"initial admin password, admin is not created if empty"`
	} `group:"store" namespace:"store" env-namespace:"ROOTFSD_STORE"`

	Engine struct {
		Config string   `long:"config" env:"CONFIG" default:"engine.yml" description:"engine commands yaml file"`
		Env    []string `long:"env" env:"ENV" env-delim:"," description:"extra environment for engine commands, KEY=VALUE"`
	} `group:"engine" namespace:"engine" env-namespace:"ROOTFSD_ENGINE"`

	Journal struct {
		Enabled  bool   `long:"enabled" env:"ENABLED" description:"journal accepted jobs to recover busy projects after restart"`
		Location string `long:"location" env:"LOCATION" description:"journal directory, defaults to .journal in projects root"`
	} `group:"journal" namespace:"journal" env-namespace:"ROOTFSD_JOURNAL"`

	Web struct {
		Address     string  `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
		RateLimit   float64 `long:"rate-limit" env:"RATE_LIMIT" default:"20" description:"requests per second per client, 0 to disable"`
		MaxBodySize int64   `long:"max-body" env:"MAX_BODY" default:"16777216" description:"max request body size"`
	} `group:"web" namespace:"web" env-namespace:"ROOTFSD_WEB"`

	Notify struct {
		EnabledError       bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on failed jobs"`
		EnabledCompletion  bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable notifications on completed jobs"`
		SMTPHost           string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort           int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername       string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword       string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS            bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPStartTLS       bool          `long:"smtp-starttls" env:"SMTP_STARTTLS" description:"enable SMTP StartTLS"`
		TimeOut            time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"notification timeout"`
		FromEmail          string        `long:"from" env:"FROM" description:"from email"`
		ToEmails           []string      `long:"to" env:"TO" env-delim:"," description:"destination email(s)"`
		Webhooks           []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s)"`
		WebhookHeaders     []string      `long:"webhook-header" env:"WEBHOOK_HEADER" env-delim:"," description:"webhook header(s), Header:Value"`
		MaxLogLines        int           `long:"max-log" env:"MAX_LOG" default:"50" description:"max number of project log lines in reports"`
		ErrorTemplate      string        `long:"err-template" env:"ERR_TEMPLATE" description:"html template file for failed jobs"`
		CompletionTemplate string        `long:"completion-template" env:"COMPLETION_TEMPLATE" description:"html template file for completed jobs"`
		HostName           string        `long:"host" env:"HOSTNAME" description:"host name running rootfsd"`
	} `group:"notify" namespace:"notify" env-namespace:"ROOTFSD_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"rootfsd.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"30" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"ROOTFSD_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("rootfsd %s\n", revision)

	if err := loadEnvFile(envFileName()); err != nil {
		fmt.Printf("failed to load env file: %v\n", err)
		os.Exit(1)
	}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	logOut := setupLogs()
	if closer, ok := logOut.(io.Closer); ok {
		defer closer.Close() //nolint:errcheck // log file
	}

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM
	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] rootfsd stopped")
}

func run(ctx context.Context) error {
	if err := os.MkdirAll(opts.ProjectsRoot, 0o750); err != nil {
		return fmt.Errorf("can't make projects root: %w", err)
	}
	lock := flock.New(filepath.Join(opts.ProjectsRoot, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("can't lock projects root: %w", err)
	}
	if !locked {
		return fmt.Errorf("projects root %s is used by another rootfsd", opts.ProjectsRoot)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Printf("[WARN] failed to unlock projects root: %v", err)
		}
	}()

	cmds, err := engine.LoadCommands(opts.Engine.Config)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, store.Params{DSN: opts.Store.DSN, BcryptCost: opts.Store.BcryptCost})
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // on shutdown

	jrnl := makeJournal()
	if err = prepareStore(ctx, st, jrnl); err != nil {
		return err
	}

	q := jobs.NewQueue(st)
	q.Journal = jrnl
	if svc := makeNotifier(); svc != nil {
		q.JobEventHandler = svc
		defer svc.Wait()
	}

	factory := &engine.Factory{Commands: cmds, Env: opts.Engine.Env, Debug: opts.Dbg}
	reg := session.New(session.Params{Store: st, Queue: q, EngineFactory: factory.Open, ProjectsRoot: opts.ProjectsRoot})
	srv, err := web.New(web.Config{Address: opts.Web.Address, Version: revision, Registry: reg, Users: st,
		RateLimit: opts.Web.RateLimit, MaxBodySize: opts.Web.MaxBodySize})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g := syncs.NewErrSizedGroup(2)
	g.Go(func() error {
		defer cancel()
		return q.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return srv.Run(ctx)
	})
	return g.Wait()
}

// prepareStore creates the initial admin and resets projects left busy by the previous run
func prepareStore(ctx context.Context, st *store.Store, jrnl *journal.Journal) error {
	if opts.Store.AdminPassword != "" {
		created, err := st.EnsureAdmin(ctx, opts.Store.AdminName, opts.Store.AdminPassword)
		if err != nil {
			return fmt.Errorf("can't make admin user: %w", err)
		}
		if created {
			log.Printf("[INFO] admin user %q created", opts.Store.AdminName)
		}
	}

	if n := jrnl.Recover(ctx, st); n > 0 {
		log.Printf("[INFO] %d interrupted projects restored from %s", n, jrnl)
	}
	stale, err := st.ResetStaleBusy(ctx, enums.StatusBuildFailed)
	if err != nil {
		return fmt.Errorf("can't reset busy projects: %w", err)
	}
	if len(stale) > 0 {
		log.Printf("[WARN] busy projects without journal reset to %s: %v", enums.StatusBuildFailed, stale)
	}
	return nil
}

func makeJournal() *journal.Journal {
	location := opts.Journal.Location
	if location == "" {
		location = filepath.Join(opts.ProjectsRoot, ".journal")
	}
	return journal.New(location, opts.Journal.Enabled)
}

func makeNotifier() *notifier.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}

	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "rootfsd@" + makeHostName()
	}

	return notifier.NewService(notifier.Params{
		EnabledError:       opts.Notify.EnabledError,
		EnabledCompletion:  opts.Notify.EnabledCompletion,
		ErrorTemplate:      opts.Notify.ErrorTemplate,
		CompletionTemplate: opts.Notify.CompletionTemplate,
		HostName:           makeHostName(),
		MaxLogLines:        opts.Notify.MaxLogLines,
		TimeOut:            opts.Notify.TimeOut,
	}, notifier.SendersParams{
		SMTP: notify.SMTPParams{
			Host:     opts.Notify.SMTPHost,
			Port:     opts.Notify.SMTPPort,
			TLS:      opts.Notify.SMTPTLS,
			StartTLS: opts.Notify.SMTPStartTLS,
			Username: opts.Notify.SMTPUsername,
			Password: opts.Notify.SMTPPassword,
			TimeOut:  opts.Notify.TimeOut,
		},
		FromEmail:      opts.Notify.FromEmail,
		ToEmails:       opts.Notify.ToEmails,
		WebhookURLs:    opts.Notify.Webhooks,
		WebhookHeaders: opts.Notify.WebhookHeaders,
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func envFileName() string {
	if name := os.Getenv("ROOTFSD_ENV_FILE"); name != "" {
		return name
	}
	return ".env"
}

// loadEnvFile sets environment from the file, a missing file is ignored.
// Variables already present in the environment win.
func loadEnvFile(name string) error {
	if err := godotenv.Load(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("can't load %s: %w", name, err)
	}
	return nil
}

func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return out
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM and SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)
}
