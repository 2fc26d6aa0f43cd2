package content

import "context"

// Store is the content-store collaborator boundary. The core only ever asks
// whether an identifier is valid; it never touches the content body.
type Store interface {
	Exists(ctx context.Context, contentID string) (bool, error)
}

// Static treats every content id as valid. Used when no backing store is
// configured and in tests.
type Static struct{}

func (Static) Exists(ctx context.Context, contentID string) (bool, error) {
	return true, nil
}
