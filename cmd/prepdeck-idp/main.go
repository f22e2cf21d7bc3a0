package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/prepdeck/go-auth-client/idp"
	"github.com/prepdeck/go-auth-client/internal/config"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.IdPFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	displayAppname("PrepDeck IdP")

	users := idp.NewInMemoryUserRepo()
	tokens := idp.NewTokenManager(idp.NewHMACSigner(cfg.Secret), users, idp.NewInMemoryRefreshRepo(),
		idp.WithTokenExpiry(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	options := []idp.ServerOption{idp.WithLogger(logger)}
	if cfg.CSRF {
		options = append(options, idp.WithCSRF())
	}
	idpServer := idp.NewServer(tokens, users, options...)

	if cfg.SeedEmail != "" && cfg.SeedPassword != "" {
		if _, err := idpServer.Seed(cfg.SeedEmail, cfg.SeedPassword, "Seed User"); err != nil {
			return fmt.Errorf("seed account: %w", err)
		}
		log.Printf("Seeded account %s\n", cfg.SeedEmail)
	}

	server := &http.Server{Addr: cfg.ListenAddr, Handler: idpServer.Handler()}
	go listenAndServe(server)
	waitForStopSignal()
	returnError = shutdown(server)
	return returnError
}

func listenAndServe(server *http.Server) {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("server.ListenAndServe: %v\n", err)
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
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
