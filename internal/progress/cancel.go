package progress

import (
	"sync/atomic"

	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// CancelToken is a shared cooperative-cancellation flag with an optional
// escape-hatch callback, matching the cancel-token shape long operations
// poll at well-defined yield points throughout this engine.
type CancelToken struct {
	flag  atomic.Bool
	check func() bool
}

// NewCancelToken returns a token that is not cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// WithCheck attaches an additional callback consulted by Cancelled/RaiseIfCancelled,
// e.g. to bridge a context.Context's Done channel without importing context
// into every leaf component.
func (c *CancelToken) WithCheck(check func() bool) *CancelToken {
	c.check = check
	return c
}

// Cancel marks the token as cancelled.
func (c *CancelToken) Cancel() {
	c.flag.Store(true)
}

// Cancelled reports whether the token has been cancelled, either directly or
// via the attached check callback.
func (c *CancelToken) Cancelled() bool {
	if c.flag.Load() {
		return true
	}
	if c.check != nil {
		return c.check()
	}
	return false
}

// RaiseIfCancelled returns a BuildCancelled error iff the token is cancelled.
func (c *CancelToken) RaiseIfCancelled() error {
	if c.Cancelled() {
		return xerrors.Cancelled()
	}
	return nil
}
