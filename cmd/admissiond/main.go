package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	admission "github.com/goliatone/go-admission"
	"github.com/goliatone/go-admission/activitymap"
	"github.com/goliatone/go-admission/repository"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *admission.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	lists    admission.DomainLists
	registry *prometheus.Registry
	metrics  *admission.Metrics
	jobs     *admission.DelayedQueue
	srv      router.Server[*fiber.App]
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("admissiond"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	cfg, err := admission.LoadConfig()
	if err != nil {
		lgr.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(redacted(cfg)))
		fmt.Println("============")
	}

	app := &App{cfg: cfg, logger: lgr}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		lgr.Error("admissiond stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	if err := WithPersistence(ctx, app); err != nil {
		return err
	}
	defer app.db.Close()

	if err := WithDomainLists(ctx, app); err != nil {
		return err
	}

	WithMetrics(app)

	app.jobs = admission.NewDelayedQueue(app.cfg.JobWorkers, 0).
		WithLoggerProvider(app.logger).
		WithMetrics(app.metrics)

	if err := WithHTTPServer(app); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	app.jobs.Start(gctx)

	g.Go(func() error {
		app.GetLogger("http").Info("listening", "addr", app.cfg.Addr)
		return app.srv.Serve(app.cfg.Addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		app.GetLogger("http").Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := app.srv.Shutdown(shutdownCtx)
		return errors.Join(err, app.jobs.Stop())
	})

	return g.Wait()
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.cfg.DSN)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}

	app.db = bun.NewDB(sqldb, sqlitedialect.New())

	if err := admission.Migrate(ctx, app.db); err != nil {
		return err
	}
	return nil
}

// WithDomainLists uses Redis when a URL is configured, seeding it from the
// lists file, and the file itself otherwise.
func WithDomainLists(ctx context.Context, app *App) error {
	logger := app.GetLogger("domainlists")

	file, err := repository.NewFileDomainLists(app.cfg.DomainListsPath, logger)
	if err != nil {
		return err
	}

	if app.cfg.RedisURL == "" {
		app.lists = file
		return nil
	}

	redisLists, err := repository.DialRedisDomainLists(ctx, app.cfg.RedisURL, repository.WithRedisLogger(logger))
	if err != nil {
		return err
	}

	whitelist, _ := file.Whitelist(ctx)
	blacklist, _ := file.Blacklist(ctx)
	if err := redisLists.Seed(ctx, whitelist, blacklist); err != nil {
		return err
	}

	app.lists = redisLists
	return nil
}

func WithMetrics(app *App) {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = admission.NewMetrics(app.registry)
}

func WithHTTPServer(app *App) error {
	cfg := app.cfg

	linkKey := []byte(cfg.LinkKey)
	if len(linkKey) == 0 {
		app.GetLogger("links").Warn("ADMISSION_LINK_KEY not set, approval links will not survive a restart")
		linkKey = randomKey()
	}
	sealer, err := admission.NewLinkSealer(linkKey)
	if err != nil {
		return err
	}

	if cfg.SigningKey == "" {
		app.GetLogger("tokens").Warn("ADMISSION_SIGNING_KEY not set, sessions will not survive a restart")
		cfg.SigningKey = hex.EncodeToString(randomKey())
	}

	var dispatcher admission.Dispatcher = admission.NewLogDispatcher(os.Stdout)
	if cfg.SMTPHost != "" {
		smtp, err := admission.NewSMTPDispatcher(cfg)
		if err != nil {
			return err
		}
		dispatcher = smtp
	}

	notifier, err := admission.NewNotifier(dispatcher, cfg)
	if err != nil {
		return err
	}

	activity := activitymap.LogSink(app.GetLogger("activity"))

	store := admission.NewIdentityStore(app.db, admission.WithStoreDomainLists(app.lists))
	store.MustValidate()

	classifier := admission.NewDomainClassifier(app.lists, store).
		WithLoggerProvider(app.logger).
		WithMetrics(app.metrics)

	listeners := admission.NewListenerRegistry(admission.NewListenerTable()).
		WithTimeout(cfg.ListenerTimeout).
		WithLoggerProvider(app.logger)

	tokens := admission.NewTokenService(cfg, app.GetLogger("tokens"))

	engine := admission.NewEngine(cfg, store, classifier, notifier, sealer,
		admission.WithEngineListeners(listeners),
		admission.WithEngineJobs(app.jobs),
		admission.WithEngineMetrics(app.metrics),
		admission.WithEngineActivitySink(activity),
		admission.WithEngineLoggerProvider(app.logger),
	)

	verifier := admission.NewEmailApprovalVerifier(store, sealer,
		admission.WithVerifierConfig(cfg),
		admission.WithVerifierMetrics(app.metrics),
		admission.WithVerifierActivitySink(activity),
		admission.WithVerifierLoggerProvider(app.logger),
	)

	register := admission.NewRegisterUserHandler(engine, tokens, app.GetLogger("register"))
	login := admission.NewLoginHandler(cfg, store, store, classifier, tokens, app.GetLogger("login")).
		WithJobs(app.jobs).
		WithMetrics(app.metrics).
		WithActivitySink(activity)
	approve := admission.NewApproveUserHandler(store, classifier, notifier, app.GetLogger("approve")).
		WithOperators(cfg.OperatorIDs()...).
		WithMetrics(app.metrics).
		WithActivitySink(activity)
	newOrgUsers := admission.NewNewOrgUsersHandler(store, classifier, app.GetLogger("neworgusers"))

	app.srv = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "admissiond",
			DisableStartupMessage: !cfg.Debug,
			EnablePrintRoutes:     cfg.Debug,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				status := admission.StatusFor(err)
				var fe *fiber.Error
				if errors.As(err, &fe) {
					status = fe.Code
				}
				return c.Status(status).JSON(fiber.Map{"result": false})
			},
		}))
	})
	app.srv.Router().WithLogger(app.GetLogger("router"))

	admission.RegisterAdmissionRoutes(app.srv.Router(),
		admission.WithControllerDebug(cfg.Debug),
		admission.WithControllerLogger(app.GetLogger("http")),
		admission.WithControllerHandlers(register, login, approve, newOrgUsers),
		admission.WithControllerVerifier(verifier),
		admission.WithControllerTokens(tokens),
		admission.WithControllerGatherer(app.registry),
	)

	return nil
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}

func redacted(cfg *admission.Config) admission.Config {
	out := *cfg
	for _, secret := range []*string{&out.LinkKey, &out.SigningKey, &out.SMTPPassword} {
		if *secret != "" {
			*secret = "********"
		}
	}
	return out
}
