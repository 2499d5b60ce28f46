package dispatch

import (
	"errors"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/getsentry/sentry-go"
)

// SentryDiagnostic returns a DiagnosticFunc that reports failures to Sentry
// through hub. The failure is logged as well.
func SentryDiagnostic(hub *sentry.Hub) DiagnosticFunc {
	return func(h completion.Handle, err error) {
		logDiagnostic(h, err)
		if hub == nil {
			return
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("connection", h.String())
			var pe *PanicError
			if errors.As(err, &pe) {
				scope.SetTag("kind", pe.Kind.String())
				scope.SetContext("continuation", sentry.Context{
					"panic": pe.Value,
					"stack": string(pe.Stack),
				})
			}
			hub.CaptureException(err)
		})
	}
}
