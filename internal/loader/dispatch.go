package loader

import (
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// apply runs on the presentation goroutine with the outcome of req.
//
// A closed session drops the result outright. A disposed node drops the
// result too (no cache write, no node update, no expander) but the queue
// still moves on.
func (s *Session) apply(req request, result Result) {
	if s.closed {
		metrics.RecordDrop(metrics.DropClosed)
		s.log.Debug("result for closed session dropped", zap.String("node", string(req.key)))
		return
	}

	if req.node.IsDisposed() {
		metrics.RecordDrop(metrics.DropResult)
		s.log.Debug("result for disposed node dropped", zap.String("node", string(req.key)))
		s.startNext()
		return
	}

	s.cache.Put(req.key, result)
	metrics.SetCacheRecords(s.cfg.ID, s.cache.Len())

	result.Match(
		func(entries []remote.Entry) { req.node.SetChildren(entries) },
		func(message string) { req.node.SetError(message) },
	)

	req.expander.OnChildrenLoaded(req.node)
	s.startNext()
}
