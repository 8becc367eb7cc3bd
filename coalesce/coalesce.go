// Package coalesce deduplicates identical concurrent requests so that only
// one upstream call is in flight per key at any instant.
//
// The first caller for a key becomes the leader and runs the operation;
// callers arriving while it runs become followers and receive the leader's
// result without invoking the operation themselves. The result is write-once
// and broadcast identically (value or error) to everyone joined on the key,
// and the in-flight entry is discarded the moment it completes.
//
// A follower whose context expires detaches and returns its context error;
// the leader and remaining followers are unaffected. The operation itself is
// run on a goroutine owned by the group, so leader-side cancellation is the
// operation's own concern (pass it a detached context if shared work must
// complete).
package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent calls by key. The zero value is ready to use.
// Groups must not be copied after first use.
type Group struct {
	sf singleflight.Group
}

// Do returns the result of fn for key, running fn at most once across all
// concurrent callers of the same key. shared reports whether the result was
// delivered to more than one caller. When ctx expires before the result is
// ready, Do returns ctx's error and the caller detaches; fn keeps running
// for the benefit of the other callers.
func (g *Group) Do(ctx context.Context, key string, fn func() ([]byte, error)) (value []byte, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		value, _ = res.Val.([]byte)
		return value, res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget drops the in-flight entry for key, so the next caller starts a new
// leader instead of joining the current one. Intended for administrative
// invalidation; normal completion forgets automatically.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}
