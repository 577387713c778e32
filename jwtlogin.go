// jwtlogin logs users in to a JupyterHub style hub from a JWT presented in
// the request header, the XSRF-TOKEN cookie or the query string.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/compute/metadata"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/jwtlogin/accounts"
	"github.com/m-lab/jwtlogin/auth/credential"
	"github.com/m-lab/jwtlogin/auth/jwtverifier"
	"github.com/m-lab/jwtlogin/auth/resolver"
	"github.com/m-lab/jwtlogin/config"
	"github.com/m-lab/jwtlogin/handler"
	"github.com/m-lab/jwtlogin/secrets"
	"github.com/m-lab/jwtlogin/session"
)

var (
	listenPort   string
	project      string
	configFile   string
	secretFile   string
	secretName   string
	redisAddress string
	// flagConfig only receives flag values; config.Load layers them over the file.
	flagConfig = config.Default()
)

func init() {
	// PORT and GOOGLE_CLOUD_PROJECT are part of the default App Engine environment.
	flag.StringVar(&listenPort, "port", "8080", "AppEngine port environment variable")
	flag.StringVar(&project, "google-cloud-project", "", "AppEngine project environment variable")
	flag.StringVar(&configFile, "config", "", "YAML configuration file; flags override its values")
	flag.StringVar(&secretFile, "secret-file", "", "File containing the shared secret")
	flag.StringVar(&secretName, "secret-name", "", "Secret Manager secret containing the shared secret")
	flag.StringVar(&redisAddress, "redis-address", "localhost:6379", "Address of the Redis session store")
	flagConfig.RegisterFlags(flag.CommandLine)
}

var mainCtx, mainCancel = context.WithCancel(context.Background())

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	defer mainCancel()

	cfg, err := config.Load(configFile, flag.CommandLine)
	rtx.Must(err, "Invalid configuration")
	secret, err := loadSecret(mainCtx)
	rtx.Must(err, "Failed to load secret")
	if secret != nil {
		cfg.Secret = string(secret)
	}
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	// VERIFIER - the secret overrides the signing certificate.
	verifier := jwtverifier.New(cfg.Verifier())
	log.WithField("mode", verifier.Mode()).Info("Token verification configured")
	locator := credential.NewLocator(cfg.HeaderName, cfg.ParamName)
	var r resolver.UsernameResolver = resolver.New(locator, verifier, cfg.LogoutOnNewToken)
	if cfg.LocalUsers {
		r = resolver.NewLocal(r, accounts.NewSystem(cfg.AddUserCommand), cfg.CreateSystemUsers)
	}

	// SESSIONS - login sessions live in Redis.
	store := session.NewStore(session.NewPool(redisAddress), cfg.SessionTTL)
	rtx.Must(store.Ping(), "Could not reach Redis at %s", redisAddress)

	c := handler.NewClient(r, store, cfg.HubBaseURL, cfg.PostLoginURL, cfg.SecureCookie)
	go handleSignals(mainCtx, verifier)

	prom := prometheusx.MustServeMetrics()
	defer prom.Close()

	srv := &http.Server{
		Addr:    ":" + listenPort,
		Handler: handler.NewMux(c),
	}
	log.Info("Listening for login requests on " + listenPort)
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start server")
	defer srv.Close()
	<-mainCtx.Done()
}

// loadSecret reads the shared secret from -secret-file or, failing that,
// from the Secret Manager secret named by -secret-name. It returns nil when
// neither is set.
func loadSecret(ctx context.Context) ([]byte, error) {
	switch {
	case secretFile != "":
		return secrets.NewLocalConfig().LoadSecret(ctx, secretFile)
	case secretName != "":
		p, err := secrets.ProjectID(ctx, project, metadata.NewClient(nil))
		if err != nil {
			return nil, err
		}
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return secrets.NewConfig(p, secretName).LoadSecret(ctx, client)
	}
	return nil, nil
}

// handleSignals drops cached signing certificates on SIGHUP and stops the
// service on SIGTERM or SIGINT.
func handleSignals(ctx context.Context, v *jwtverifier.Verifier) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				log.Info("Received SIGHUP, reloading signing certificates")
				v.InvalidateCertificate("")
				continue
			}
			log.WithField("signal", sig.String()).Info("Shutting down")
			mainCancel()
			return
		}
	}
}
