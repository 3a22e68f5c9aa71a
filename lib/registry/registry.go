// Package registry configures authenticated access to the container
// registry serving the gated images.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
)

// Credentials are explicit basic credentials for the registry. When nil,
// the ambient keychain (docker config, credential helpers) is consulted.
type Credentials struct {
	Username string
	Password string
}

// Configurator resolves credentials and performs the initial handshake
// against a registry, yielding the remote options later stages use.
type Configurator struct {
	creds  *Credentials
	logger *slog.Logger
}

// NewConfigurator creates a configurator. creds may be nil.
func NewConfigurator(creds *Credentials, logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurator{creds: creds, logger: logger}
}

// Configure authenticates against the registry serving ref and returns
// remote options bound to that authenticator. The handshake performs the
// Distribution ping plus token exchange with pull scope, so unreachable
// endpoints and bad credentials fail here instead of mid-poll.
func (c *Configurator) Configure(ctx context.Context, ref name.Reference) ([]remote.Option, error) {
	auth := c.authenticator(ref)

	reg := ref.Context().Registry
	scopes := []string{ref.Scope(transport.PullScope)}
	if _, err := transport.NewWithContext(ctx, reg, auth, remote.DefaultTransport, scopes); err != nil {
		return nil, fmt.Errorf("registry handshake %s: %w", reg.Name(), err)
	}

	c.logger.Info("registry configured",
		"registry", reg.Name(),
		"anonymous", auth == authn.Anonymous)

	return []remote.Option{remote.WithAuth(auth)}, nil
}

// authenticator picks explicit credentials when configured, otherwise
// the ambient keychain, demoting keychain failures to anonymous access.
func (c *Configurator) authenticator(ref name.Reference) authn.Authenticator {
	if c.creds != nil {
		return &authn.Basic{Username: c.creds.Username, Password: c.creds.Password}
	}

	auth, err := authn.DefaultKeychain.Resolve(ref.Context())
	if err != nil {
		c.logger.Warn("keychain resolution failed, using anonymous access",
			"registry", ref.Context().RegistryStr(), "error", err)
		return authn.Anonymous
	}
	return auth
}
