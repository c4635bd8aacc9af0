package internal

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by catalog lookups that match no row
var ErrRecordNotFound = errors.New("catalog record not found")

// ProviderAdapter drives one provider's private share protocol
type ProviderAdapter interface {
	Provider() ProviderIdentity
	// Handle builds the handle for an object id previously produced by Store
	Handle(objectID string) RemoteObjectHandle
	Store(ctx context.Context, share ShareReference, destDir, cookie string) (*ReshareResult, error)
	Delete(ctx context.Context, handle RemoteObjectHandle, cookie string) error
}

// CredentialStore returns the session cookie stored for a provider
type CredentialStore interface {
	GetCredential(ctx context.Context, provider string) (string, bool, error)
}

// CatalogStore persists the resources hosted by this system
type CatalogStore interface {
	Get(ctx context.Context, id int64) (*CatalogRecord, error)
	Insert(ctx context.Context, rec *CatalogRecord) (int64, error)
	UpdateShareLink(ctx context.Context, id int64, shareLink, fileID string) (bool, error)
	FlagForReview(ctx context.Context, id int64, pendingFileID, note string) (bool, error)
	DeleteByShareLink(ctx context.Context, shareLink string) (int, error)
	FindByShareLink(ctx context.Context, shareLink string) (*CatalogRecord, bool, error)
}
