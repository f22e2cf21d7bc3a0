package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	authclient "github.com/prepdeck/go-auth-client"
	"github.com/prepdeck/go-auth-client/authapi"
	"github.com/prepdeck/go-auth-client/authflow"
	"github.com/prepdeck/go-auth-client/internal/browser"
	"github.com/prepdeck/go-auth-client/internal/config"
	"github.com/prepdeck/go-auth-client/session"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(os.Args) < 2 {
		printHelp()
		return nil
	}

	switch os.Args[1] {
	case "--version", "version", "-v":
		fmt.Println("prepdeck " + version)
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "login":
		return runLogin(cfg, os.Args[2:])
	case "register":
		return runRegister(cfg, os.Args[2:])
	case "logout":
		return runLogout(cfg)
	case "whoami":
		return runWhoami(cfg)
	case "refresh":
		return runRefresh(cfg)
	case "status":
		return runStatus(cfg)
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

func newClient(cfg config.Config) (*authclient.Client, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := authclient.Config{
		APIBaseURL: cfg.APIBaseURL,
		Store:      store,
		DataDir:    cfg.DataDir,
	}
	if providers := oauthProviders(cfg); len(providers) > 0 {
		clientCfg.OAuth = &authclient.OAuthConfig{
			RedirectURL: cfg.OAuthRedirectURL,
			Providers:   providers,
		}
	}

	var options []authclient.Option
	if cfg.Debug {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		options = append(options, authclient.WithLogger(log))
	}
	return authclient.New(clientCfg, options...)
}

func buildStore(cfg config.Config) (session.Store, error) {
	dir := cfg.DataDir
	if dir == "" {
		var err error
		dir, err = session.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	if cfg.SessionKey != "" {
		key, err := session.KeyFromHex(cfg.SessionKey)
		if err != nil {
			return nil, fmt.Errorf("PREPDECK_SESSION_KEY: %w", err)
		}
		return session.NewEncryptedFileStore(dir, key)
	}
	return session.NewFileStore(dir)
}

func oauthProviders(cfg config.Config) map[string]authflow.ProviderConfig {
	providers := make(map[string]authflow.ProviderConfig)
	if cfg.GoogleClientID != "" {
		providers["google"] = authflow.ProviderConfig{
			ClientID: cfg.GoogleClientID,
			Issuer:   cfg.GoogleIssuer,
		}
	}
	if cfg.GithubClientID != "" {
		providers["github"] = authflow.ProviderConfig{
			ClientID: cfg.GithubClientID,
			AuthURL:  cfg.GithubAuthURL,
		}
	}
	return providers
}

func runLogin(cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password")
	provider := flags.String("provider", "", "sign in through a third-party provider instead")
	flags.Parse(args)

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	client.Start(ctx)
	if client.IsAuthenticated() {
		user, _ := client.CurrentUser()
		fmt.Printf("Already signed in as %s\n", user.Email)
		return nil
	}

	if *provider != "" {
		return loginWithProvider(ctx, client, cfg, *provider)
	}

	if *email == "" || *password == "" {
		return errors.New("login requires --email and --password, or --provider")
	}
	sess, err := client.Login(ctx, *email, *password)
	if err != nil {
		switch {
		case errors.Is(err, authapi.ErrInvalidCredentials):
			return errors.New("incorrect email or password")
		case errors.Is(err, authapi.ErrNetwork):
			return fmt.Errorf("could not reach %s: %v", cfg.APIBaseURL, err)
		}
		return err
	}
	fmt.Printf("Signed in as %s\n", sess.User.Email)
	return nil
}

func loginWithProvider(ctx context.Context, client *authclient.Client, cfg config.Config, provider string) error {
	listenAddr, err := callbackAddr(cfg.OAuthRedirectURL)
	if err != nil {
		return err
	}
	callback, err := authflow.NewCallbackServer(listenAddr)
	if err != nil {
		return err
	}
	defer callback.Close()

	redirect, err := client.BeginOAuth(ctx, provider)
	if err != nil {
		return err
	}

	fmt.Println("Opening browser to authenticate...")
	if err := browser.Open(redirect.URL); err != nil {
		fmt.Printf("Could not open browser. Visit this URL manually:\n  %s\n", redirect.URL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	code, state, err := callback.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("login timed out waiting for the provider callback")
		}
		return err
	}

	sess, err := client.CompleteOAuth(ctx, provider, code, state)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s via %s\n", sess.User.Email, provider)
	return nil
}

// callbackAddr extracts the listen address from the configured redirect URL,
// so the local server answers exactly where providers send the user.
func callbackAddr(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("redirect URL %q has no host", redirectURL)
	}
	return u.Host, nil
}

func runRegister(cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("register", flag.ExitOnError)
	name := flags.String("name", "", "display name")
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password, at least 8 characters")
	flags.Parse(args)

	if *email == "" || *password == "" {
		return errors.New("register requires --email and --password")
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	client.Start(ctx)
	if client.IsAuthenticated() {
		user, _ := client.CurrentUser()
		return fmt.Errorf("already signed in as %s, log out first", user.Email)
	}

	sess, err := client.Register(ctx, *name, *email, *password)
	if err != nil {
		switch {
		case errors.Is(err, authapi.ErrEmailTaken):
			return fmt.Errorf("%s is already registered", *email)
		case errors.Is(err, authapi.ErrValidation):
			return fmt.Errorf("invalid details: %v", err)
		}
		return err
	}
	fmt.Printf("Account created. Signed in as %s\n", sess.User.Email)
	return nil
}

func runLogout(cfg config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	client.Start(ctx)
	if !client.IsAuthenticated() {
		fmt.Println("Already logged out.")
		return nil
	}
	if err := client.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cfg config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	client.Start(context.Background())
	user, ok := client.CurrentUser()
	if !ok {
		return errors.New("not signed in")
	}

	if user.Name != "" {
		fmt.Printf("%s <%s>\n", user.Name, user.Email)
	} else {
		fmt.Println(user.Email)
	}
	if user.Role != "" {
		fmt.Printf("Role: %s\n", user.Role)
	}
	for _, perm := range user.Permissions {
		fmt.Printf("  - %s\n", perm)
	}
	return nil
}

func runRefresh(cfg config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	client.Start(ctx)
	sess, err := client.Refresh(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return errors.New("not signed in")
		}
		return err
	}

	if sess.ExpiresAt.IsZero() {
		fmt.Println("Session refreshed.")
		return nil
	}
	fmt.Printf("Session refreshed; access token valid until %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func runStatus(cfg config.Config) error {
	displayAppname("PrepDeck")

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	client.Start(context.Background())

	fmt.Printf("API:    %s\n", client.APIBaseURL())
	fmt.Printf("State:  %s\n", client.State())
	sess, ok := client.Session()
	if !ok {
		return nil
	}
	if sess.User.Name != "" {
		fmt.Printf("User:   %s <%s>\n", sess.User.Name, sess.User.Email)
	} else {
		fmt.Printf("User:   %s\n", sess.User.Email)
	}
	fmt.Printf("Via:    %s\n", sess.Provider)
	if !sess.ExpiresAt.IsZero() {
		fmt.Printf("Expiry: %s\n", sess.ExpiresAt.Local().Format(time.RFC1123))
	}
	if sess.LastError != "" {
		fmt.Printf("Note:   last save failed (%s); session lives in memory only\n", sess.LastError)
	}
	return nil
}

func printHelp() {
	fmt.Println(`prepdeck - PrepDeck account tool

Usage:
  prepdeck <command> [flags]

Commands:
  login      Sign in with --email/--password or --provider
  register   Create an account and sign in
  logout     End the session on this device
  whoami     Show the signed-in user
  refresh    Force a token refresh
  status     Show session state and expiry
  version    Print the version

Environment:
  PREPDECK_API_URL       Backend API root
  PREPDECK_DATA_DIR      Where session files live
  PREPDECK_SESSION_KEY   Hex key enabling encrypted session storage
  PREPDECK_DEBUG         Verbose logging`)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
