package credentials

import "context"

// metadataBackend is the slice of the metadata store the durable
// credential store needs; satisfied by *metadata.Store without importing
// it directly, avoiding an import cycle between pkg/metadata and
// pkg/credentials.
type metadataBackend interface {
	GetCredential(ctx context.Context, hostname string) (found bool, token *string, err error)
	StoreCredential(ctx context.Context, hostname, token string) error
	ForgetCredential(ctx context.Context, hostname string) error
}

// DBStore is the durable Store flavour, delegating to the metadata pool
// (spec.md §5: "Database flavour delegates to the metadata pool").
type DBStore struct {
	backend metadataBackend
}

func NewDBStore(backend metadataBackend) *DBStore {
	return &DBStore{backend: backend}
}

func (d *DBStore) Get(ctx context.Context, hostname string) (Entry, error) {
	found, token, err := d.backend.GetCredential(ctx, hostname)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return NotFound, nil
	}
	return Entry{Found: true, Token: token}, nil
}

func (d *DBStore) Store(ctx context.Context, hostname string, token string) error {
	return d.backend.StoreCredential(ctx, hostname, token)
}

func (d *DBStore) Forget(ctx context.Context, hostname string) error {
	return d.backend.ForgetCredential(ctx, hostname)
}
