package objectstore

import "context"

// Remover deletes stored image objects by storage key.
// Removing a key that does not exist is not an error.
type Remover interface {
	RemoveObject(ctx context.Context, key string) error
}
