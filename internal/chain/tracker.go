package chain

import (
	"context"
	"sync/atomic"
)

type submissionKey struct{}

// SubmissionTracker records whether any transaction was broadcast while
// serving one request. Once it reports true the request had an on-chain side
// effect and must not be retried blindly.
type SubmissionTracker struct {
	count atomic.Int32
}

func WithSubmissionTracker(ctx context.Context) (context.Context, *SubmissionTracker) {
	t := &SubmissionTracker{}
	return context.WithValue(ctx, submissionKey{}, t), t
}

func (t *SubmissionTracker) Submitted() bool { return t != nil && t.count.Load() > 0 }

// MarkSubmitted notes a broadcast on the tracker carried by ctx, if any.
func MarkSubmitted(ctx context.Context) {
	if t, ok := ctx.Value(submissionKey{}).(*SubmissionTracker); ok {
		t.count.Add(1)
	}
}
