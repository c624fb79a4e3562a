package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// newSupervisor creates the supervisor tree root for `pulse serve`.
func newSupervisor(logger *slog.Logger) *suture.Supervisor {
	return suture.New("pulse", suture.Spec{
		EventHook: eventHook(logger),
		Timeout:   10 * time.Second,
	})
}

func eventHook(logger *slog.Logger) suture.EventHook {
	return func(ei suture.Event) {
		switch e := ei.(type) {
		case suture.EventStopTimeout:
			logger.Warn("Service failed to stop in time", "supervisor", e.SupervisorName, "service", e.ServiceName)
		case suture.EventServicePanic:
			logger.Error("Service panicked", "service", e.ServiceName, "panic", e.PanicMsg)
			logger.Debug(e.Stacktrace)
		case suture.EventServiceTerminate:
			logger.Error("Service failed", "error", e.Err, "supervisor", e.SupervisorName, "service", e.ServiceName)
		case suture.EventBackoff:
			logger.Debug("Too many service failures, backing off", "supervisor", e.SupervisorName)
		case suture.EventResume:
			logger.Debug("Leaving backoff", "supervisor", e.SupervisorName)
		default:
			logger.Warn("Unknown supervisor event", "type", int(e.Type()))
		}
	}
}

// namedService is a suture.Service with a readable name in events.
type namedService struct {
	name string
	fn   func(ctx context.Context) error
}

func (s namedService) String() string {
	return s.name
}

// Serve runs fn, masking context errors that did not come from ctx so
// suture restarts the service instead of treating it as stopped.
func (s namedService) Serve(ctx context.Context) error {
	return sanitizeError(ctx, s.fn(ctx))
}

func sanitizeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	errs := []error{stderrors.New(err.Error())}
	if stderrors.Is(err, suture.ErrDoNotRestart) {
		errs = append(errs, suture.ErrDoNotRestart)
	}
	if stderrors.Is(err, suture.ErrTerminateSupervisorTree) {
		errs = append(errs, suture.ErrTerminateSupervisorTree)
	}
	return stderrors.Join(errs...)
}

// httpService serves srv until ctx is done, then shuts it down gracefully.
func httpService(srv *http.Server, logger *slog.Logger) namedService {
	return namedService{
		name: "http " + srv.Addr,
		fn: func(ctx context.Context) error {
			errC := make(chan error, 1)
			go func() {
				logger.Info("Listening", "addr", srv.Addr)
				errC <- srv.ListenAndServe()
			}()

			select {
			case err := <-errC:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP shutdown incomplete", "error", err)
			}
			<-errC
			return ctx.Err()
		},
	}
}
