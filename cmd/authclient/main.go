package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/filerepo"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running auth client: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Auth client stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	var (
		serverURL    = flag.String("server", "http://localhost:8080", "auth server base URL")
		clientID     = flag.String("client-id", "", "OAuth2 client ID")
		clientSecret = flag.String("client-secret", "", "OAuth2 client secret, empty for public clients")
		listenAddr   = flag.String("listen", "localhost:9000", "address for the local callback listener")
		scopes       = flag.String("scopes", "openid profile", "space separated scopes")
		stateFile    = flag.String("state-file", ".authclient.json", "file holding session state between runs")
		discover     = flag.Bool("discover", false, "resolve endpoints via OIDC discovery")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	displayAppname("auth client")

	redirectURI := "http://" + *listenAddr + "/callback"
	cfg, err := oauthmodel.NewSessionConfig(oauthmodel.SessionConfig{
		ClientID:          *clientID,
		ClientSecret:      *clientSecret,
		RedirectURI:       redirectURI,
		AuthServerBaseURL: *serverURL,
		Scope:             strings.Fields(*scopes),
	})
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	repo, err := filerepo.New(*stateFile)
	if err != nil {
		return fmt.Errorf("filerepo.New: %w", err)
	}

	clientOptions := []api.HTTPClientOption{}
	options := []session.Option{}
	if *discover {
		endpoints, err := api.Discover(context.Background(), cfg.AuthServerBaseURL)
		if err != nil {
			return fmt.Errorf("api.Discover: %w", err)
		}
		clientOptions = append(clientOptions, api.WithEndpoints(*endpoints))
		options = append(options, session.WithAuthorizeEndpoint(endpoints.AuthorizationURL))
	}
	apiClient, err := api.NewHTTPClient(cfg.AuthServerBaseURL, clientOptions...)
	if err != nil {
		return fmt.Errorf("api.NewHTTPClient: %w", err)
	}

	store, err := storage.NewStore(repo)
	if err != nil {
		return fmt.Errorf("storage.NewStore: %w", err)
	}

	controller, err := session.NewController(cfg, store, apiClient, options...)
	if err != nil {
		return fmt.Errorf("session.NewController: %w", err)
	}
	defer controller.Destroy()
	subscribe(controller)

	if controller.IsAuthenticated() {
		user := utils.Value(controller.User())
		fmt.Printf("Already signed in as %s\n", user.Email)
	} else {
		if err := signIn(controller, *listenAddr); err != nil {
			return err
		}
	}

	fmt.Println("Session active, press Ctrl+C to sign out and exit")
	waitForStopSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controller.Logout(ctx); err != nil {
		return fmt.Errorf("controller.Logout: %w", err)
	}
	return nil
}

// signIn runs one interactive authorization flow: prints the URL to visit,
// serves the loopback redirect and completes the callback it receives.
func signIn(controller *session.Controller, listenAddr string) error {
	authURL, err := controller.StartLogin(nil)
	if err != nil {
		return fmt.Errorf("controller.StartLogin: %w", err)
	}
	fmt.Printf("Open this URL in your browser:\n\n  %s\n\n", authURL)

	callbackErr := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		err := controller.CompleteCallback(r.Context(), r.URL.String())
		if err != nil {
			http.Error(w, "sign in failed, check the terminal", http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in, you can close this tab")
		}
		callbackErr <- err
	})
	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			callbackErr <- fmt.Errorf("server.ListenAndServe: %w", err)
		}
	}()

	err = <-callbackErr

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		log.Printf("callback server shutdown: %v\n", shutdownErr)
	}
	if err != nil {
		return fmt.Errorf("controller.CompleteCallback: %w", err)
	}
	return nil
}

func subscribe(controller *session.Controller) {
	onLogin := events.Handler(func(e events.Event) {
		payload := e.Data.(events.LoginPayload)
		fmt.Printf("Signed in as %s (%s)\n", payload.User.Name, payload.User.Email)
	})
	onRefresh := events.Handler(func(e events.Event) {
		fmt.Println("Tokens refreshed")
	})
	onExpired := events.Handler(func(e events.Event) {
		fmt.Printf("Session expired: %v\n", e.Data)
	})
	onLogout := events.Handler(func(events.Event) {
		fmt.Println("Signed out")
	})
	onError := events.Handler(func(e events.Event) {
		payload := e.Data.(events.ErrorPayload)
		fmt.Printf("Auth error: %s: %s\n", payload.Code, payload.Description)
	})
	controller.On(events.TypeLogin, &onLogin)
	controller.On(events.TypeTokenRefresh, &onRefresh)
	controller.On(events.TypeTokenExpired, &onExpired)
	controller.On(events.TypeLogout, &onLogout)
	controller.On(events.TypeError, &onError)
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
