// Package iox holds small cleanup helpers shared across the client,
// adapters, and CLI.
package iox

import "io"

// DiscardClose closes c, dropping the error. For deferred closes of
// response bodies, tape files, and adapters where the error changes
// nothing:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc wraps c's Close for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(pub))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn, dropping the error. For deferred cleanup that
// isn't a Close, like flushing a tape writer:
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }
