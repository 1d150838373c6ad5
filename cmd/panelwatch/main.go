// panelwatch logs into the control panel, subscribes to realtime server
// events and tails them to stdout until interrupted. It doubles as a
// smoke test for the session lifecycle: restore, login, second factor,
// refresh and logout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostpanel/panelclient/authapi"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/hostpanel/panelclient/credentials/redisrepo"
	"github.com/hostpanel/panelclient/gateway"
	"github.com/hostpanel/panelclient/internal/config"
	"github.com/hostpanel/panelclient/realtime"
	"github.com/hostpanel/panelclient/refresh"
	"github.com/hostpanel/panelclient/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("panelwatch failed")
	}
}

func run() error {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.New()
	displayAppname(cfg.GetAppName())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})
	defer redisClient.Close()

	repo, err := redisrepo.New(redisClient, cfg.GetCredentialKeyPrefix())
	if err != nil {
		return err
	}
	store, err := credentials.NewStore(repo)
	if err != nil {
		return err
	}
	authClient, err := authapi.New(cfg.GetAPIBaseURL(), cfg.GetRequestTimeout())
	if err != nil {
		return err
	}
	coordinator, err := refresh.NewCoordinator(store, authClient)
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg.GetAPIBaseURL(), cfg.GetRequestTimeout(), store, coordinator)
	if err != nil {
		return err
	}
	channel, err := realtime.NewChannel(cfg.GetRealtimeURL(), store, coordinator)
	if err != nil {
		return err
	}
	svc, err := session.NewService(session.Deps{
		Store:   store,
		AuthAPI: authClient,
		Gateway: gw,
		Channel: channel,
	})
	if err != nil {
		return err
	}

	gw.OnSessionExpired(func() {
		log.Warn().Msg("session expired, log in again")
	})

	ctx := context.Background()
	if err := establishSession(ctx, svc); err != nil {
		return err
	}
	principal := svc.Current().Principal
	log.Info().Str("principal", principal.DisplayName).Str("role", string(principal.Role)).Msg("session established")

	tailTopics(channel)
	if err := channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("realtime channel unavailable")
	}

	waitForStopSignal()

	logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.Logout(logoutCtx)
}

func establishSession(ctx context.Context, svc *session.Service) error {
	ok, err := svc.CheckAuth(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not validate persisted session")
	}
	if ok {
		return nil
	}

	email := os.Getenv("PANEL_EMAIL")
	password := os.Getenv("PANEL_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("no persisted session and PANEL_EMAIL/PANEL_PASSWORD not set")
	}

	result, err := svc.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if !result.RequiresSecondFactor {
		return nil
	}

	fmt.Print("Second-factor code: ")
	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	if _, err := svc.VerifySecondFactor(ctx, strings.TrimSpace(code)); err != nil {
		return err
	}
	return nil
}

func tailTopics(channel *realtime.Channel) {
	topics := []string{
		realtime.TopicSystemAlert,
		realtime.TopicBackupCompleted,
		realtime.TopicServiceStatusChange,
		realtime.TopicResourceUsageUpdate,
		realtime.TopicSecurityAlert,
	}
	for _, topic := range topics {
		topic := topic
		channel.Subscribe(topic, func(payload json.RawMessage) {
			evt := log.Info().Str("topic", topic)
			if len(payload) > 0 {
				evt = evt.RawJSON("payload", payload)
			}
			evt.Msg("event")
		})
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
