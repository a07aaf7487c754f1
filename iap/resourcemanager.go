package iap

import (
	"context"
	"os"

	"cloud.google.com/go/compute/metadata"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type crmResourceManager struct {
	svc *cloudresourcemanager.Service
}

// NewResourceManager returns a ResourceManager backed by the Cloud Resource
// Manager API.
func NewResourceManager(ctx context.Context, opts ...option.ClientOption) (ResourceManager, error) {
	svc, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &crmResourceManager{svc: svc}, nil
}

func (m *crmResourceManager) Get(ctx context.Context, projectID string) (*Project, error) {
	proj, err := m.svc.Projects.Get(projectID).Context(ctx).Do()
	if err != nil {
		// Absent projects surface as a nil record, not an error.
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 404 {
			return nil, nil
		}
		return nil, err
	}
	return &Project{ID: proj.ProjectId, Number: proj.ProjectNumber}, nil
}

// MetadataProjectIDProvider resolves the project id from the
// GOOGLE_CLOUD_PROJECT environment variable, falling back to the GCE
// metadata server.
type MetadataProjectIDProvider struct{}

func (MetadataProjectIDProvider) ProjectID(ctx context.Context) (string, error) {
	if projectID := os.Getenv("GOOGLE_CLOUD_PROJECT"); projectID != "" {
		return projectID, nil
	}
	return metadata.ProjectIDWithContext(ctx)
}
