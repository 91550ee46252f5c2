package mirror

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/endpoint"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

type indexRequest struct {
	Key core.ProviderKey
}

func indexEndpoint(svc *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(indexRequest)
		if !ok {
			return nil, fmt.Errorf("type assertion failed for indexRequest")
		}
		return svc.Index(ctx, req.Key)
	}
}

type versionsRequest struct {
	Key     core.ProviderKey
	Version string
}

func versionsEndpoint(svc *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(versionsRequest)
		if !ok {
			return nil, fmt.Errorf("type assertion failed for versionsRequest")
		}
		return svc.Versions(ctx, req.Key, req.Version)
	}
}

type artifactRequest struct {
	VersionID int64
}

type artifactResponse struct {
	found        bool
	presignedURL string
}

func artifactEndpoint(svc *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(artifactRequest)
		if !ok {
			return nil, fmt.Errorf("type assertion failed for artifactRequest")
		}

		result, err := svc.Artifact(ctx, req.VersionID)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, core.NewError(core.KindNotFound, "unknown artifact version id", nil)
		}
		return artifactResponse{found: true, presignedURL: result.PresignedURL}, nil
	}
}
