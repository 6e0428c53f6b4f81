package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/authface/authface/authflow"
	"github.com/authface/authface/federation"
	"github.com/authface/authface/internal/config"
	"github.com/authface/authface/server"
	"github.com/authface/authface/sessions"
	"github.com/authface/authface/sessions/redisrepo"
	"github.com/authface/authface/tier"
	"github.com/authface/authface/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	keyPair, err := loadKeyPair(c)
	if err != nil {
		return errors.Wrap(err, "loading signing keys")
	}

	providersFile, err := config.LoadProvidersFile(c.GetProvidersFile())
	if err != nil {
		return errors.Wrap(err, "loading providers file")
	}

	providers, err := federation.NewProviders(providersFile.Providers)
	if err != nil {
		return errors.Wrap(err, "building providers")
	}

	var durable sessions.DurableRepo
	if addr := c.GetRedisAddr(); addr != "" {
		durable, err = redisrepo.New(context.Background(), redisrepo.Config{
			Addr:     addr,
			Username: c.GetRedisUsername(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
			Prefix:   c.GetRedisPrefix(),
		})
		if err != nil {
			return errors.Wrap(err, "connecting to redis")
		}
		log.Info().Str("addr", addr).Msg("durable session backend enabled")
	} else {
		log.Warn().Msg("no REDIS_ADDR configured, sessions will not survive restarts")
	}

	store := sessions.NewStore(durable, sessions.WithSweepInterval(c.GetSweepInterval()))
	flows := authflow.NewTracker(c.GetFlowTTL())
	policy := tier.NewPolicy(providersFile.TierRules())

	tokenOptions := []token.ManagerOption{}
	if c.GetRequireLiveSession() {
		tokenOptions = append(tokenOptions, token.WithSessionLiveness(store))
	}
	tokens, err := token.NewManager(token.NewKeyPairSigner(keyPair), c.GetIssuer(), c.GetTokenTTL(), tokenOptions...)
	if err != nil {
		return errors.Wrap(err, "building token manager")
	}

	manager, err := federation.NewManager(providers, flows, policy, store, c.GetSessionTTL())
	if err != nil {
		return errors.Wrap(err, "building federation manager")
	}

	srv, err := server.New(c, manager, tokens, store)
	if err != nil {
		return errors.Wrap(err, "building server")
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()

	returnError = shutdown(httpServer)

	// Stop minting, then flush pending durable writes, then drop the
	// backend connection.
	flows.Close()
	store.Close()
	if durable != nil {
		if err := durable.Close(); err != nil {
			log.Warn().Err(err).Msg("closing durable backend")
		}
	}
	return returnError
}

// loadKeyPair reads the RS256 signing key, or generates an ephemeral
// one when AUTO_GENERATE_KEYS is set. Tokens signed with a generated
// key do not verify across restarts.
func loadKeyPair(c config.Config) (*token.KeyPair, error) {
	if path := c.GetPrivateKeyPath(); path != "" {
		return token.LoadKeyPairFromFile("authface-key", path)
	}
	if !c.GetAutoGenerateKeys() {
		return nil, errors.New("JWT_PRIVATE_KEY_PATH is not set and AUTO_GENERATE_KEYS is not enabled")
	}
	log.Warn().Msg("generating ephemeral signing keys")
	return token.GenerateRSAKeyPair("authface-key", 2048)
}

func setupLogging(c config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func listenAndServe(httpServer *http.Server) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
