package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout returns an Echo middleware that bounds each request by d.
// The deadline is attached to the request context, so it cancels only that
// request's upstream round-trip. A request that runs out of time gets
// 408 Request Timeout.
func RequestTimeout(d time.Duration) echo.MiddlewareFunc {
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: d,
		ErrorHandler: func(err error, c echo.Context) error {
			if errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(c.Request().Context().Err(), context.DeadlineExceeded) {
				return echo.NewHTTPError(http.StatusRequestTimeout, "request timed out").SetInternal(rootCause(err))
			}
			return err
		},
	})
}

// rootCause strips *echo.HTTPError wrappers. Echo renders an Internal that
// is itself an HTTPError in place of the outer one, which would let a
// handler's 504 replace the 408.
func rootCause(err error) error {
	for {
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Internal == nil {
			return err
		}
		err = he.Internal
	}
}
