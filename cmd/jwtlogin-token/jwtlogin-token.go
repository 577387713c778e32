// jwtlogin-token mints a login token signed with the shared secret. With
// -hub-url it also logs in to the hub and reports the resulting user.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/logx"
	"github.com/m-lab/go/pretty"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/jwtlogin/api/login"
	"github.com/m-lab/jwtlogin/static"
)

var (
	hubURL     = flagx.URL{}
	secret     flagx.FileBytes
	username   string
	claimField string
	trueClaims flagx.StringArray
	expiry     time.Duration
	timeout    time.Duration
	output     io.Writer = os.Stdout
	logFatalf            = log.Fatalf
)

func init() {
	setupFlags()
}

func setupFlags() {
	flag.Var(&hubURL, "hub-url", "Hub base URL to log in to, e.g. http://localhost:8080/hub/; print the token when empty")
	flag.Var(&secret, "secret-file", "File containing the shared secret used for signing")
	flag.StringVar(&username, "token-username", "", "Username placed in the username claim")
	flag.StringVar(&claimField, "username-claim-field", static.UsernameClaimField, "Claim holding the username")
	flag.Var(&trueClaims, "true-claims", "Claims set to true in the token (repeat or separate with commas)")
	flag.DurationVar(&expiry, "expiry", time.Hour, "Token lifetime")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "Complete the login within timeout")
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnvWithLog(flag.CommandLine, false), "Failed to read args from env")

	key := bytes.TrimRight(secret, "\r\n")
	if len(key) == 0 || username == "" {
		logFatalf("ERROR: -secret-file and -token-username are required")
		return
	}

	now := time.Now()
	cl := jwt.MapClaims{
		claimField: username,
		"iat":      now.Unix(),
		"exp":      now.Add(expiry).Unix(),
	}
	for _, c := range trueClaims {
		cl[c] = true
	}
	logx.Debug.Println(cl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(key)
	rtx.Must(err, "Failed to sign claims")

	if hubURL.URL == nil {
		fmt.Fprintln(output, token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c := login.NewClient("jwtlogin-token", hubURL.URL)
	res, err := c.Login(ctx, token)
	if err != nil {
		logFatalf("ERROR: login failed: %v", err)
		return
	}
	logx.Debug.Println("Redirected to:", res.Location)

	user, err := c.Whoami(ctx, res.Session)
	if err != nil {
		logFatalf("ERROR: user lookup failed: %v", err)
		return
	}
	fmt.Fprintln(output, pretty.Sprint(user))
}
