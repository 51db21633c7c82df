package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveWithTimeout(d time.Duration, h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(RequestTimeout(d))
	r.GET("/test", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	return w
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func TestRequestTimeout_Disabled(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		var hasDeadline bool
		w := serveWithTimeout(d, func(c *gin.Context) {
			_, hasDeadline = c.Request.Context().Deadline()
			ok(c)
		})
		if w.Code != http.StatusOK {
			t.Errorf("%v: expected status 200, got %d", d, w.Code)
		}
		if hasDeadline {
			t.Errorf("%v: expected no deadline", d)
		}
	}
}

func TestRequestTimeout_ContextHasDeadline(t *testing.T) {
	var hasDeadline bool
	w := serveWithTimeout(5*time.Second, func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		ok(c)
	})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !hasDeadline {
		t.Error("expected context to have deadline")
	}
}

func TestRequestTimeout_TimeoutTriggered(t *testing.T) {
	w := serveWithTimeout(50*time.Millisecond, func(c *gin.Context) {
		select {
		case <-time.After(time.Second):
			ok(c)
		case <-c.Request.Context().Done():
		}
	})

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status 504, got %d", w.Code)
	}
}

func TestRequestTimeout_WrittenResponseIsKept(t *testing.T) {
	w := serveWithTimeout(50*time.Millisecond, func(c *gin.Context) {
		ok(c)
		time.Sleep(100 * time.Millisecond)
	})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 (already written), got %d", w.Code)
	}
}
