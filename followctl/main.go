package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bringyour/follow/follow"
)

const FollowCtlVersion = "0.0.1"

const OpenTimeout = 15 * time.Second

func init() {
	flag.Set("logtostderr", "true")
}

func main() {
	usage := fmt.Sprintf(
		`Follow control.

The default urls are:
    api_url: %s

Settings are read from --config (yaml), then --env (.env) and FOLLOW_* env vars,
then the options below.

Usage:
    followctl whoami [options]
    followctl watch [options] [--metrics_addr=<metrics_addr>]
    followctl follow [options] <email>
    followctl unfollow [options] <email>
    followctl directory [options]
    followctl profile [options] <first-last>
    followctl delete-post [options] <post_id>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --config=<config>                Yaml config file.
    --env=<env>                      Env file [default: .env].
    --api_url=<api_url>
    --session=<session>              Session cookie value.
    --jwt=<jwt>                      Bearer jwt, if the api uses one.
    --rollback                       Restore the count when a follow is dropped.
    --log_v=<log_v>                  Log verbosity [default: 0].
    --metrics_addr=<metrics_addr>    Serve /metrics on this address.`,
		DefaultApiUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FollowCtlVersion)
	if err != nil {
		panic(err)
	}

	if logV, _ := opts.String("--log_v"); logV != "" {
		flag.Set("v", logV)
	}

	config := requireConfig(opts)

	// commands return instead of exiting so that deferred closes run
	var exitCode int
	if whoami_, _ := opts.Bool("whoami"); whoami_ {
		exitCode = whoami(config)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		exitCode = watch(config)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		email, _ := opts.String("<email>")
		exitCode = setFollow(config, email, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		email, _ := opts.String("<email>")
		exitCode = setFollow(config, email, false)
	} else if directory_, _ := opts.Bool("directory"); directory_ {
		exitCode = directory(config)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		slug, _ := opts.String("<first-last>")
		exitCode = profile(config, slug)
	} else if deletePost_, _ := opts.Bool("delete-post"); deletePost_ {
		postId, _ := opts.String("<post_id>")
		exitCode = deletePost(config, postId)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func requireConfig(opts docopt.Opts) *Config {
	configPath, _ := opts.String("--config")
	envPath, _ := opts.String("--env")

	config, err := LoadConfig(configPath, envPath)
	if err != nil {
		panic(err)
	}

	if apiUrl, _ := opts.String("--api_url"); apiUrl != "" {
		config.ApiUrl = apiUrl
	}
	if session, _ := opts.String("--session"); session != "" {
		config.Session = session
	}
	if jwt, _ := opts.String("--jwt"); jwt != "" {
		config.Jwt = jwt
	}
	if rollback, _ := opts.Bool("--rollback"); rollback {
		config.Rollback = true
	}
	if metricsAddr, _ := opts.String("--metrics_addr"); metricsAddr != "" {
		config.MetricsAddr = metricsAddr
	}
	return config
}

// the returned event is set on SIGINT/SIGQUIT/SIGTERM, which unloads the session
func newSession(config *Config, registerer prometheus.Registerer) (*follow.Session, *follow.Event) {
	event := follow.NewEventWithContext(context.Background())
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	ctx := event.Ctx()

	apiSettings := follow.DefaultFollowApiSettings()
	if 0 < config.RequestRate {
		apiSettings.RequestLimit = rate.Limit(config.RequestRate)
	} else {
		apiSettings.RequestLimit = rate.Inf
	}

	auth := &follow.SessionAuth{
		SessionCookie: config.Session,
		ByJwt:         config.Jwt,
	}
	api := follow.NewFollowApiWithContext(ctx, config.ApiUrl, auth, apiSettings)

	settings := follow.DefaultSessionSettings()
	settings.CoordinatorSettings.RollbackOnDropped = config.Rollback

	wsUrl, err := api.WsUrl()
	if err != nil {
		panic(err)
	}
	handleFactory := follow.NewWsHandleFactory(wsUrl, auth, settings.ConnectionSettings)

	session := follow.NewSession(
		ctx,
		api,
		handleFactory,
		follow.NewTerminalNotifier(),
		settings,
		follow.NewMetrics(registerer),
	)
	return session, event
}

// nil if not logged in
func requireStart(session *follow.Session) *follow.User {
	user, err := session.Start()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Not logged in: %s\n", err)
		return nil
	}
	return user
}

// waits for the realtime connection to open. false if it closed or timed out
func waitOpen(ctx context.Context, session *follow.Session) bool {
	states := make(chan follow.ConnectionState, 8)
	unsubscribe := session.Connection().AddStateCallback(func(handleId follow.Id, state follow.ConnectionState) {
		select {
		case states <- state:
		default:
		}
	})
	defer unsubscribe()

	// the connection may have settled before subscribing
	switch session.Connection().State() {
	case follow.ConnectionOpen:
		return true
	case follow.ConnectionClosed:
		return false
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(OpenTimeout):
			return false
		case state := <-states:
			switch state {
			case follow.ConnectionOpen:
				return true
			case follow.ConnectionClosed:
				return false
			}
		}
	}
}

func whoami(config *Config) int {
	session, _ := newSession(config, nil)
	defer session.Close()

	user := requireStart(session)
	if user == nil {
		return 1
	}
	fmt.Printf("email: %s\n", user.Email)
	fmt.Printf("name: %s %s\n", user.FirstName, user.LastName)
	fmt.Printf("nickname: %s\n", user.Nickname)
	fmt.Printf("followers: %d\n", user.Followers)
	fmt.Printf("following: %d\n", user.Following)
	return 0
}

func watch(config *Config) int {
	registry := prometheus.NewRegistry()
	session, event := newSession(config, registry)
	defer session.Close()

	if config.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    config.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			defer event.Set()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics error: %s\n", err)
			}
		}()
		defer metricsServer.Close()
	}

	user := requireStart(session)
	if user == nil {
		return 1
	}

	session.Connection().AddStateCallback(func(handleId follow.Id, state follow.ConnectionState) {
		fmt.Printf("connection %s: %s\n", handleId, state)
		if state == follow.ConnectionClosed {
			// the manager does not reconnect by itself
			event.Set()
		}
	})
	session.Store().Subscribe(func(update follow.UpdateFollowerCount) {
		fmt.Printf("followers %s: %d\n", update.Email, update.Count)
	})

	fmt.Printf("Watching followers of %s (%d)\n", user.Email, user.Followers)

	if !waitOpen(event.Ctx(), session) {
		fmt.Fprintf(os.Stderr, "Could not open the realtime connection.\n")
		return 1
	}

	select {
	case <-event.Ctx().Done():
	}
	return 0
}

// nil if the directory is unavailable or no user matches
func requireProfile(session *follow.Session, match func(*follow.User) bool) *follow.ProfileView {
	directory := session.Directory()
	if directory.State == follow.DirectoryUnavailable {
		fmt.Fprintf(os.Stderr, "Directory unavailable: %s\n", directory.Error)
		return nil
	}
	for _, user := range directory.Users {
		if match(user) {
			return session.OpenProfile(user)
		}
	}
	fmt.Fprintf(os.Stderr, "User not found.\n")
	return nil
}

func setFollow(config *Config, email string, isFollowing bool) int {
	session, event := newSession(config, nil)
	defer session.Close()

	if requireStart(session) == nil {
		return 1
	}

	view := requireProfile(session, func(user *follow.User) bool {
		return user.Email == email
	})
	if view == nil {
		return 1
	}
	defer view.Close()

	if !view.Capabilities().ShowFollowButton {
		fmt.Fprintf(os.Stderr, "Cannot follow %s.\n", email)
		return 1
	}

	if _, err := view.LoadFollowState(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not load follow state: %s\n", err)
		return 1
	}
	if view.IsFollowing() == isFollowing {
		fmt.Printf("%s followers: %d (no change)\n", email, view.FollowerCount())
		return 0
	}

	if !waitOpen(event.Ctx(), session) {
		// the toggle still applies locally and the message is dropped
		fmt.Fprintf(os.Stderr, "Realtime connection not open.\n")
	}

	result, err := view.ToggleFollow()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	fmt.Printf("%s followers: %d (sent: %t)\n", email, view.FollowerCount(), result.Sent)
	return 0
}

func directory(config *Config) int {
	session, _ := newSession(config, nil)
	defer session.Close()

	directory := session.Directory()
	if directory.State == follow.DirectoryUnavailable {
		fmt.Fprintf(os.Stderr, "Directory unavailable: %s\n", directory.Error)
		return 1
	}
	if len(directory.Users) == 0 {
		fmt.Printf("Nothing to see here...\n")
		return 0
	}
	for _, user := range directory.Users {
		fmt.Printf("%s\t%s\t%s\n", user.Slug(), user.Email, user.AboutMe)
	}
	return 0
}

func profile(config *Config, slug string) int {
	session, _ := newSession(config, nil)
	defer session.Close()

	// anonymous viewing is allowed
	session.Start()

	directory := session.Directory()
	if directory.State == follow.DirectoryUnavailable {
		fmt.Fprintf(os.Stderr, "Directory unavailable: %s\n", directory.Error)
		return 1
	}
	user := directory.FindUser(slug)
	if user == nil {
		fmt.Fprintf(os.Stderr, "User not found.\n")
		return 1
	}
	view := session.OpenProfile(user)
	defer view.Close()

	if _, err := view.LoadFollowState(); err != nil {
		fmt.Fprintf(os.Stderr, "Could not load follow state: %s\n", err)
	}

	capabilities := view.Capabilities()
	fmt.Printf("name: %s %s\n", user.FirstName, user.LastName)
	fmt.Printf("about: %s\n", user.AboutMe)
	fmt.Printf("following: %d\n", user.Following)
	fmt.Printf("followers: %d\n", view.FollowerCount())
	switch {
	case capabilities.ShowFollowButton:
		fmt.Printf("is following: %t\n", view.IsFollowing())
	case capabilities.ShowEditSelfButton:
		fmt.Printf("this is you\n")
	}
	return 0
}

func deletePost(config *Config, postId string) int {
	session, _ := newSession(config, nil)
	defer session.Close()

	if err := session.DeletePost(postId); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	fmt.Printf("Deleted %s\n", postId)
	return 0
}
