package secrets

import (
	"context"
	"errors"
	"fmt"
)

// MetadataClient queries the GCE metadata server.
type MetadataClient interface {
	ProjectIDWithContext(ctx context.Context) (string, error)
}

// ProjectID returns project when set. Otherwise it asks the metadata server
// for the project of the instance running the service.
func ProjectID(ctx context.Context, project string, md MetadataClient) (string, error) {
	if project != "" {
		return project, nil
	}
	if md == nil {
		return "", errors.New("no project given and no metadata client")
	}
	p, err := md.ProjectIDWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read project from metadata server: %w", err)
	}
	return p, nil
}
