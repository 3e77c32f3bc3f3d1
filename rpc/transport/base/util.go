package base

import (
	"io"
	"net"

	"github.com/pkg/errors"
)

// isClosedErr reports whether err only signals a regular end of the connection
// (closed by the peer or by ourselves) rather than a failure
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
