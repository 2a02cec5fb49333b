package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-chat-sync/auth"
	"github.com/jrsteele09/go-chat-sync/chat"
	chatsqlite "github.com/jrsteele09/go-chat-sync/chat/sqlite"
	"github.com/jrsteele09/go-chat-sync/extension"
	"github.com/jrsteele09/go-chat-sync/identity"
	"github.com/jrsteele09/go-chat-sync/identity/gotrue"
	"github.com/jrsteele09/go-chat-sync/identity/providerfake"
	"github.com/jrsteele09/go-chat-sync/internal/config"
	"github.com/jrsteele09/go-chat-sync/internal/metrics"
	"github.com/jrsteele09/go-chat-sync/internal/sqlitedb"
	"github.com/jrsteele09/go-chat-sync/llm"
	"github.com/jrsteele09/go-chat-sync/llm/llmfake"
	"github.com/jrsteele09/go-chat-sync/server"
	"github.com/jrsteele09/go-chat-sync/sessionstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const offlineReply = "The assistant is not configured. Set OPENROUTER_API_KEY to enable replies."

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlitedb.Open(c.GetDatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps, closeDeps, err := buildDeps(ctx, c, db, m)
	if err != nil {
		return err
	}
	defer closeDeps()
	deps.Metrics = m
	deps.Gatherer = reg

	handler, err := server.New(c, deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-waitForStopSignal():
	}
	returnError = shutdown(httpServer)
	handler.Wait()
	return returnError
}

func buildDeps(ctx context.Context, c config.Config, db *sql.DB, m *metrics.Metrics) (server.Deps, func(), error) {
	logger := log.Logger
	closeDeps := func() {}

	repo, err := chatsqlite.New(ctx, db)
	if err != nil {
		return server.Deps{}, closeDeps, err
	}

	var completer llm.Completer
	if key := c.GetLLMAPIKey(); key != "" {
		completer, err = llm.NewOpenRouter(llm.OpenRouterOptions{
			APIKey:      key,
			BaseURL:     c.GetLLMBaseURL(),
			Model:       c.GetLLMModel(),
			SiteURL:     c.GetLLMSiteURL(),
			AppTitle:    c.GetLLMAppTitle(),
			Temperature: c.GetLLMTemperature(),
			MaxTokens:   c.GetLLMMaxTokens(),
			Attempts:    c.GetLLMAttempts(),
			Timeout:     c.GetLLMTimeout(),
			Logger:      logger,
		})
		if err != nil {
			return server.Deps{}, closeDeps, err
		}
	} else {
		log.Warn().Msg("OPENROUTER_API_KEY not set, chat replies are canned")
		completer = llmfake.New(offlineReply)
	}

	chatService, err := chat.NewService(repo, completer,
		chat.WithHistoryLimit(c.GetHistoryLimit()),
		chat.WithLogger(logger),
	)
	if err != nil {
		return server.Deps{}, closeDeps, err
	}

	newProvider, users := providerFactory(c, logger)

	verifier, err := auth.NewVerifier(ctx, auth.Options{
		JWKSURL:   c.GetJWKSURL(),
		Issuer:    c.GetTokenIssuer(),
		Audience:  "authenticated",
		JWTSecret: c.GetJWTSecret(),
		Users:     users,
		Logger:    logger,
	})
	if err != nil {
		return server.Deps{}, closeDeps, err
	}

	deps := server.Deps{
		Chat:        chatService,
		Verifier:    verifier,
		NewProvider: newProvider,
	}

	if c.GetSyncEnabled() {
		store, err := sessionstore.NewSQLite(ctx, db)
		if err != nil {
			return server.Deps{}, closeDeps, err
		}
		bg, err := extension.NewBackground(extension.BackgroundOptions{
			Store:           store,
			DeliveryTimeout: c.GetDeliveryTimeout(),
			Metrics:         m,
			Logger:          logger,
		})
		if err != nil {
			return server.Deps{}, closeDeps, err
		}
		if err := bg.Start(ctx); err != nil {
			return server.Deps{}, closeDeps, err
		}
		deps.Background = bg
		closeDeps = bg.Close
	}
	return deps, closeDeps, nil
}

// providerFactory returns a per-request provider client plus the lookup used to verify
// bearer tokens. Without a provider URL an in-memory provider stands in for local runs.
func providerFactory(c config.Config, logger zerolog.Logger) (func() identity.Provider, auth.UserLookup) {
	if url := c.GetProviderURL(); url != "" {
		newClient := func() identity.Provider {
			return gotrue.New(gotrue.Options{URL: url, AnonKey: c.GetProviderAnonKey(), Logger: logger})
		}
		return newClient, gotrue.New(gotrue.Options{URL: url, AnonKey: c.GetProviderAnonKey(), Logger: logger})
	}

	log.Warn().Msg("AUTH_URL not set, using the in-memory identity provider")
	backend := providerfake.NewBackend()
	return func() identity.Provider { return backend.NewProvider() }, backend.NewProvider()
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
