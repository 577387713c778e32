package secrets

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/m-lab/jwtlogin/metrics"
)

// LocalConfig supports loading the shared secret from a local file rather
// than from secretmanager.
type LocalConfig struct{}

// NewLocalConfig creates a new instance for loading a local secret.
func NewLocalConfig() *LocalConfig {
	return &LocalConfig{}
}

// LoadSecret reads the secret from the named file, dropping a trailing
// newline. An empty file is an error.
func (c *LocalConfig) LoadSecret(ctx context.Context, name string) ([]byte, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		metrics.SecretLoadsTotal.WithLabelValues("file", "error").Inc()
		return nil, err
	}
	b = bytes.TrimRight(b, "\r\n")
	if len(b) == 0 {
		metrics.SecretLoadsTotal.WithLabelValues("file", "error").Inc()
		return nil, fmt.Errorf("secret file %s is empty", name)
	}
	metrics.SecretLoadsTotal.WithLabelValues("file", "OK").Inc()
	return b, nil
}
