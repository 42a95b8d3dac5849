package providers

import (
	"context"

	"github.com/zatekoja/diagnosticpricesearch/internal/domain/entities"
)

// ServiceBackend is one upstream price-list API.
//
// Failures come back as *errors.AppError. A cancelled ctx yields an error for
// which errors.IsCancelled reports true, so callers can drop it silently.
type ServiceBackend interface {
	Kind() entities.BackendKind
	FetchServicePage(ctx context.Context, req entities.ServicePageRequest) (*entities.RawServicePage, error)
}
