package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"go.uber.org/zap"
)

type TLSConfig struct {
	Enabled    bool   `envconfig:"TLS_ENABLED" default:"false"`
	SocketPath string `envconfig:"SPIRE_SOCKET_PATH" default:"unix:///run/spire/sockets/agent.sock"`
	// AuthorizedID restricts peers to one SPIFFE ID. Empty accepts any ID
	// from the trust bundle.
	AuthorizedID string `envconfig:"SPIFFE_AUTHORIZED_ID"`
}

// Source holds the workload X509 source backing mTLS. SPIRE rotates the
// SVIDs; configs built from a Source pick up new certificates.
type Source struct {
	x509       *workloadapi.X509Source
	authorizer tlsconfig.Authorizer
	logger     *zap.Logger
}

// NewSource connects to the workload API. It returns nil when TLS is disabled.
func NewSource(ctx context.Context, cfg TLSConfig, logger *zap.Logger) (*Source, error) {
	if !cfg.Enabled {
		logger.Info("TLS is disabled")
		return nil, nil
	}

	authorizer, err := Authorizer(cfg.AuthorizedID)
	if err != nil {
		return nil, err
	}

	source, err := workloadapi.NewX509Source(ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(cfg.SocketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create X509Source: %w", err)
	}

	logger.Info("SPIRE TLS configuration loaded",
		zap.String("socket_path", cfg.SocketPath),
		zap.String("authorized_id", cfg.AuthorizedID))

	return &Source{x509: source, authorizer: authorizer, logger: logger}, nil
}

// Authorizer builds the peer check for an optional SPIFFE ID.
func Authorizer(id string) (tlsconfig.Authorizer, error) {
	if id == "" {
		return tlsconfig.AuthorizeAny(), nil
	}
	parsed, err := spiffeid.FromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid SPIFFE ID %q: %w", id, err)
	}
	return tlsconfig.AuthorizeID(parsed), nil
}

func (s *Source) ServerConfig() *tls.Config {
	cfg := tlsconfig.MTLSServerConfig(s.x509, s.x509, s.authorizer)
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

func (s *Source) ClientConfig() *tls.Config {
	cfg := tlsconfig.MTLSClientConfig(s.x509, s.x509, s.authorizer)
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

// Watch logs the current SVID and its expiry until ctx is done.
func (s *Source) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svid, err := s.x509.GetX509SVID()
			if err != nil {
				s.logger.Error("Failed to get X509 SVID", zap.Error(err))
				continue
			}
			s.logger.Info("Certificate status",
				zap.String("spiffe_id", svid.ID.String()),
				zap.Time("expiry", svid.Certificates[0].NotAfter),
				zap.Duration("ttl", time.Until(svid.Certificates[0].NotAfter)))
		}
	}
}

func (s *Source) Close() error {
	return s.x509.Close()
}
