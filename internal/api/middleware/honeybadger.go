package middleware

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	honeybadger "github.com/honeybadger-io/honeybadger-go"
	"github.com/sirupsen/logrus"
)

// HoneybadgerMiddleware reports panics and error responses to Honeybadger
// when HONEYBADGER_API_KEY is set. Panics are re-raised for gin.Recovery.
func HoneybadgerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	apiKey := os.Getenv("HONEYBADGER_API_KEY")
	if apiKey == "" {
		logger.Info("Honeybadger reporting disabled (HONEYBADGER_API_KEY not set)")
		return func(c *gin.Context) { c.Next() }
	}

	honeybadger.Configure(honeybadger.Configuration{
		APIKey: apiKey,
		Env:    os.Getenv("AUTOPERSIST_ENV"),
	})
	logger.Info("Honeybadger reporting enabled")

	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				honeybadger.Notify(fmt.Sprintf("panic: %s %s", c.Request.Method, c.Request.URL.Path),
					c.Request, honeybadger.Context{"stack": string(debug.Stack())}, honeybadger.Tags{"panic", "http"})
				logger.Errorf("panic reported to Honeybadger: %v", rec)
				panic(rec)
			}
		}()

		c.Next()
		reportStatus(logger, c)
	}
}

// reportStatus forwards 5xx responses and unexpected 4xx ones. 404 and 409
// are normal outcomes of document lookups and are not reported.
func reportStatus(logger *logrus.Logger, c *gin.Context) {
	status := c.Writer.Status()
	if status < 400 || status == 404 || status == 409 {
		return
	}
	msg := fmt.Sprintf("HTTP %d: %s %s", status, c.Request.Method, c.Request.URL.Path)
	ctx := honeybadger.Context{"document": c.Param("name")}
	if status >= 500 {
		honeybadger.Notify("error: "+msg, c.Request, ctx, honeybadger.Tags{"5XX", "http"})
	} else {
		honeybadger.Notify("warning: "+msg, ctx, honeybadger.Tags{"4XX", "http"})
	}
	logger.Warnf("reported %s to Honeybadger", msg)
}
