package config

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"
)

// gsmMaxConcurrency bounds parallel AccessSecretVersion calls during a batch.
const gsmMaxConcurrency = 8

// defaultSecretVersion is used when a reference does not pin a version.
const defaultSecretVersion = "latest"

// ErrSecretCorrupted is returned when a payload does not match the CRC32C
// checksum reported by Secret Manager.
var ErrSecretCorrupted = errors.New("secret payload checksum mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// gsmClient is the subset of the Secret Manager client used by GSMProvider.
type gsmClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// GSMProvider reads secrets from GCP Secret Manager and verifies each payload
// against its CRC32C checksum before returning it.
type GSMProvider struct {
	projectID string
	client    gsmClient
	logger    *slog.Logger
}

// NewGSMProvider creates a provider backed by a Secret Manager client using
// Application Default Credentials. References without a project resolve under
// projectID.
func NewGSMProvider(ctx context.Context, projectID string, logger *slog.Logger) (*GSMProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return newGSMProviderWithClient(projectID, client, logger), nil
}

func newGSMProviderWithClient(projectID string, client gsmClient, logger *slog.Logger) *GSMProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &GSMProvider{
		projectID: projectID,
		client:    client,
		logger:    logger,
	}
}

// Close releases the underlying gRPC connection.
func (p *GSMProvider) Close() error {
	return p.client.Close()
}

// GetParametersBatch resolves references of the form "secret", "secret:version"
// or a full "projects/.../versions/..." resource name, in parallel.
func (p *GSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gsmMaxConcurrency)

	for _, key := range keys {
		g.Go(func() error {
			value, err := p.access(gctx, p.versionName(key))
			if err != nil {
				p.logger.Error("failed to access secret", "ref", key, "error", err)
				return fmt.Errorf("resolving secret %q: %w", key, err)
			}
			mu.Lock()
			result[key] = value
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// versionName expands a short reference into a secret version resource name.
func (p *GSMProvider) versionName(ref string) string {
	if strings.HasPrefix(ref, "projects/") {
		return ref
	}
	secret, version, found := strings.Cut(ref, ":")
	if !found || version == "" {
		version = defaultSecretVersion
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", p.projectID, secret, version)
}

func (p *GSMProvider) access(ctx context.Context, name string) (string, error) {
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("accessing %s: %w", name, err)
	}

	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("accessing %s: empty payload", name)
	}

	data := payload.GetData()
	if payload.DataCrc32C != nil {
		if int64(crc32.Checksum(data, castagnoli)) != payload.GetDataCrc32C() {
			return "", fmt.Errorf("accessing %s: %w", name, ErrSecretCorrupted)
		}
	}

	return string(data), nil
}
