package environment

import (
	"context"
	"os"

	"cloud.google.com/go/compute/metadata"
)

// Provider reports the environment the process is currently running on.
// Implementations must re-evaluate on every call; callers never cache.
type Provider interface {
	CurrentEnvironment(ctx context.Context) Environment
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context) Environment

func (f ProviderFunc) CurrentEnvironment(ctx context.Context) Environment {
	return f(ctx)
}

// MetadataProvider detects the runtime by probing App Engine environment
// variables and the GCE metadata server.
type MetadataProvider struct{}

func NewMetadataProvider() *MetadataProvider {
	return &MetadataProvider{}
}

func (p *MetadataProvider) CurrentEnvironment(ctx context.Context) Environment {
	if os.Getenv("GAE_INSTANCE") != "" {
		if os.Getenv("GAE_ENV") == "standard" {
			return AppEngineStandard
		}
		return AppEngineFlexible
	}
	if os.Getenv("K_SERVICE") != "" && os.Getenv("K_REVISION") != "" {
		return CloudRun
	}
	if !metadata.OnGCE() {
		return Unknown
	}
	// The cluster-name instance attribute is only present on GKE nodes.
	if cluster, err := metadata.InstanceAttributeValueWithContext(ctx, "cluster-name"); err == nil && cluster != "" {
		return KubernetesEngine
	}
	return ComputeEngine
}
