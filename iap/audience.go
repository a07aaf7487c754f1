// Package iap builds the audience strings Identity-Aware Proxy tokens are
// verified against.
package iap

import (
	"context"
	"fmt"

	"github.com/polarisops/gcp-common/errors"
)

// Project is the directory record an audience is derived from.
type Project struct {
	ID     string
	Number int64
}

// ResourceManager looks up a project record by its identifier. A nil record
// with a nil error means the project was not found.
type ResourceManager interface {
	Get(ctx context.Context, projectID string) (*Project, error)
}

// ProjectIDProvider supplies the identifier of the active project.
type ProjectIDProvider interface {
	ProjectID(ctx context.Context) (string, error)
}

// ProjectIDProviderFunc adapts a function to ProjectIDProvider.
type ProjectIDProviderFunc func(ctx context.Context) (string, error)

func (f ProjectIDProviderFunc) ProjectID(ctx context.Context) (string, error) {
	return f(ctx)
}

// AppEngineAudienceProvider derives the IAP audience for applications on
// App Engine: /projects/<number>/apps/<projectId>. Both collaborators are
// re-queried on every call; nothing is cached.
type AppEngineAudienceProvider struct {
	projectIDProvider ProjectIDProvider
	resourceManager   ResourceManager
}

func NewAppEngineAudienceProvider(provider ProjectIDProvider) (*AppEngineAudienceProvider, error) {
	if provider == nil {
		return nil, errors.InvalidArgument("GcpProjectIdProvider cannot be null.")
	}
	return &AppEngineAudienceProvider{projectIDProvider: provider}, nil
}

func (p *AppEngineAudienceProvider) SetResourceManager(rm ResourceManager) error {
	if rm == nil {
		return errors.InvalidArgument("ResourceManager cannot be null.")
	}
	p.resourceManager = rm
	return nil
}

func (p *AppEngineAudienceProvider) Audience(ctx context.Context) (string, error) {
	if p.resourceManager == nil {
		return "", errors.InvalidArgument("ResourceManager cannot be null.")
	}
	projectID, err := p.projectIDProvider.ProjectID(ctx)
	if err != nil {
		return "", err
	}
	project, err := p.resourceManager.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", errors.InvalidArgument("Project expected not to be null. Is Cloud Resource Manager API enabled?")
	}
	if project.Number == 0 {
		return "", errors.InvalidArgument("Project Number expected not to be null.")
	}
	if projectID == "" {
		return "", errors.InvalidArgument("Project Id expected not to be null.")
	}
	return fmt.Sprintf("/projects/%d/apps/%s", project.Number, projectID), nil
}
