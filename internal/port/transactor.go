package port

import "context"

// Transactor runs fn in one storage transaction. Repositories called with the
// ctx handed to fn take part in that transaction. fn's error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
