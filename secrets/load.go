// Package secrets loads the shared token signing secret from the Google Cloud
// Secret Manager or from a local file.
package secrets

import (
	"bytes"
	"context"
	"fmt"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/cenkalti/backoff/v4"
	"github.com/googleapis/gax-go/v2"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"

	"github.com/m-lab/jwtlogin/metrics"
	"github.com/m-lab/jwtlogin/static"
)

// SecretClient wraps the AccessSecretVersion function provided by the
// secretmanager.Client.
type SecretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest, opts ...gax.CallOption) *secretmanager.SecretVersionIterator
}

// iter warps the Next() method of a *secretmanager.SecretVersionIterator.
type iter interface {
	Next(it *secretmanager.SecretVersionIterator) (*secretmanagerpb.SecretVersion, error)
}

// stdIter implements the iter interfaces, and is used to invoke the
// iterator.Next() method.
type stdIter struct{}

// Next invokes the Next() method of a *secretmanager.SecretVersionIterator.
func (s *stdIter) Next(it *secretmanager.SecretVersionIterator) (*secretmanagerpb.SecretVersion, error) {
	return it.Next()
}

// Config contains settings for secrets.
type Config struct {
	iter    iter
	Name    string
	Project string

	// Retry settings for transient Secret Manager failures.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// NewConfig creates a new secret config for the named secret.
func NewConfig(project, name string) *Config {
	return &Config{
		iter:            &stdIter{},
		Name:            name,
		Project:         project,
		InitialInterval: static.BackoffInitialInterval,
		MaxInterval:     static.BackoffMaxInterval,
		MaxRetries:      static.BackoffMaxRetries,
	}
}

// getSecret fetches the version of a secret specified by 'path' from the Secret
// Manager API.
func (c *Config) getSecret(ctx context.Context, client SecretClient, path string) ([]byte, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: path,
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, err
	}

	return result.Payload.Data, nil
}

// getSecretVersions returns a slice of all *enabled* versions for a secret,
// newest first. It will ignore disabled or destroyed versions of a secret.
func (c *Config) getSecretVersions(ctx context.Context, client SecretClient) ([]string, error) {
	req := &secretmanagerpb.ListSecretVersionsRequest{
		Parent:   c.path(),
		PageSize: 1000,
	}

	it := client.ListSecretVersions(ctx, req)
	versions := []string{}
	for {
		resp, err := c.iter.Next(it)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if resp.State != secretmanagerpb.SecretVersion_ENABLED {
			continue
		}
		versions = append(versions, resp.Name)
	}

	if len(versions) < 1 {
		return nil, backoff.Permanent(fmt.Errorf("no versions found for secret: %s", c.Name))
	}

	return versions, nil
}

// LoadSecret fetches the newest enabled version of the named secret, dropping
// a trailing newline. Transient failures are retried with exponential backoff.
// An empty secret is an error.
func (c *Config) LoadSecret(ctx context.Context, client SecretClient) ([]byte, error) {
	var secret []byte
	op := func() error {
		versions, err := c.getSecretVersions(ctx, client)
		if err != nil {
			return err
		}
		log.Printf("Loading JWT shared secret %v", versions[0])
		b, err := c.getSecret(ctx, client, versions[0])
		if err != nil {
			return err
		}
		secret = bytes.TrimRight(b, "\r\n")
		if len(secret) == 0 {
			return backoff.Permanent(fmt.Errorf("secret %s is empty", versions[0]))
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		log.WithFields(log.Fields{
			"secret": c.Name,
			"error":  err.Error(),
			"retry":  d,
		}).Warn("Failed to load secret, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(c.getBackoff(), c.MaxRetries), ctx), notify)
	if err != nil {
		metrics.SecretLoadsTotal.WithLabelValues("secretmanager", "error").Inc()
		return nil, err
	}
	metrics.SecretLoadsTotal.WithLabelValues("secretmanager", "OK").Inc()
	return secret, nil
}

func (c *Config) getBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.RandomizationFactor = static.BackoffRandomizationFactor
	b.Multiplier = static.BackoffMultiplier
	b.MaxInterval = c.MaxInterval
	b.MaxElapsedTime = 0
	return b
}

func (c *Config) path() string {
	return "projects/" + c.Project + "/secrets/" + c.Name
}
