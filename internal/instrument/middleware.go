package instrument

import (
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"datagrid-backend/internal/config"
	"datagrid-backend/internal/metadata"
)

// Middleware returns a Fiber middleware that sets up tracing for each request.
// It generates (or propagates) a trace ID, creates a root HTTP span, and injects
// the tracer into the request context for downstream handlers.
func Middleware(cfg config.InstrumentationConfig, tracer *Tracer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || tracer == nil {
			return c.Next()
		}

		// Sampling: skip tracing for a proportion of requests
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		// request strings point into buffers fiber reuses; spans outlive the request
		traceID := utils.CopyString(c.Get("X-Trace-ID"))
		if traceID == "" {
			traceID = newUUID()
		}

		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), tracer)
		ctx, span := tracer.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", utils.CopyString(c.Method()))
		span.SetMetadata("path", utils.CopyString(c.Path()))
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		// auth middleware runs downstream and sets c.Locals("user")
		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			span.SetMetadata("user_id", user.ID)
			c.SetUserContext(WithUserID(c.UserContext(), user.ID))
		}

		statusCode := c.Response().StatusCode()
		span.SetMetadata("status_code", statusCode)
		if statusCode >= 400 || err != nil {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()

		return err
	}
}
