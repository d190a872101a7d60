package loader

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/listing"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

// fetch runs on an executor goroutine. It never touches the cache or the
// node; the only way back is the posted apply.
func (s *Session) fetch(req request) {
	result := s.list(req)
	s.cfg.Dispatcher.Post(func() { s.apply(req, result) })
}

// list calls the listing service for req and turns the outcome into a
// Result. Failures, including a panicking backend, become error Results.
func (s *Session) list(req request) (result Result) {
	log := s.log.With(
		zap.String("connection", req.connection),
		zap.String("address", req.address))

	svc, err := s.cfg.Resolver.Resolve(req.connection)
	if err != nil {
		err = listing.Wrap("resolve", req.address, err)
		log.Warn("listing service unavailable", zap.Error(err))
		return Failure(err.Error())
	}

	ctx, release := s.cfg.Auth.Enter(s.ctx)
	defer release()

	var set remote.EntrySet
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("listing backend panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.RecordFetch(svc.Type(), time.Since(start), 0, false)
			result = Failure(fmt.Sprintf("listing failed: %v", r))
		}
	}()

	err = svc.List(ctx, req.address, s.cfg.Revision, func(e remote.Entry) error {
		set.Add(e)
		return nil
	})
	elapsed := time.Since(start)
	metrics.RecordFetch(svc.Type(), elapsed, set.Len(), err == nil)

	if err != nil {
		err = listing.Wrap("list", req.address, err)
		log.Warn("listing failed", zap.Error(err), zap.Duration("duration", elapsed))
		return Failure(err.Error())
	}

	log.Debug("listing complete",
		zap.Int("entries", set.Len()),
		zap.Duration("duration", elapsed))
	return Children(set.Entries())
}
