package utils

import (
	"io"
)

// maxDrain bounds how much of an unread body is discarded before closing,
// so keep-alive connections can be reused without reading a huge payload.
const maxDrain = 64 << 10

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// DrainClose discards up to 64KiB of rc and closes it.
func DrainClose(rc io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, rc, maxDrain)
	_ = rc.Close()
}
