package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyContextAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/ai/chats/1/send-message", nil)

	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) {
		t.Fatalf("fresh context must carry no key and no replay")
	}

	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag must read as false")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("replay flag not read")
	}

	for _, tc := range []struct {
		val  any
		want bool
	}{
		{nil, false},
		{uint(7), true},
		{"7", false},
		{uint(0), false},
	} {
		if tc.val != nil {
			c.Set(userIDKey, tc.val)
		}
		if id, ok := userIDFromCtx(c); ok != tc.want || (ok && id != 7) {
			t.Fatalf("userIDFromCtx(%v) = %d, %v", tc.val, id, ok)
		}
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	lookup := func(_ context.Context, _, _ uint, _ string, _ time.Time) (bool, error) {
		lookupCalled = true
		return false, nil
	}
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.GET("/ping", func(c *gin.Context) {
		// header absent ⇒ no key stashed
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present when header missing")
		}
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup should not be called when header missing")
	}
}

func TestIdempotencyValidator_InvalidKey_Length(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 5}, nil)) // very small
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "abcdef") // 6 > 5
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["code"] != "bad_idempotency_key" || body["message"] != "invalid Idempotency-Key" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestIdempotencyValidator_InvalidKey_Pattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// only digits allowed → alpha will fail
	r.Use(IdempotencyValidator(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil))
	r.POST("/y", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/y", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc123") // invalid
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestIdempotencyValidator_Valid_NoLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// MaxLen <= 0 triggers default 200, Pattern nil triggers default regex
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/z", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok || key != "abc-123" {
			t.Fatalf("expected stashed key abc-123, got %q ok=%v", key, ok)
		}
		if IsReplay(c) {
			t.Fatalf("expected IsReplay=false when lookup=nil")
		}
		if IsRateBypass(c) {
			t.Fatalf("expected IsRateBypass=false when lookup=nil")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/z", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc-123") // matches default pattern
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_Valid_WithLookup_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	withUser := func(c *gin.Context) { c.Set(userIDKey, uint(9)); c.Next() }

	t.Run("lookup miss", func(t *testing.T) {
		r := gin.New()
		r.Use(withUser)
		lookup := func(_ context.Context, userID, chatID uint, key string, now time.Time) (bool, error) {
			if userID != 9 || chatID != 42 || key != "key-1" || now.IsZero() {
				t.Fatalf("lookup args not populated: uid=%d chat=%d key=%q now=%v", userID, chatID, key, now)
			}
			return false, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/ai/chats/:id/send-message", func(c *gin.Context) {
			if IsReplay(c) || IsRateBypass(c) {
				t.Fatalf("expected no replay/bypass on miss")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ai/chats/42/send-message", nil)
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("miss: expected 200, got %d", w.Code)
		}
	})

	t.Run("lookup hit sets replay and bypass", func(t *testing.T) {
		r := gin.New()
		r.Use(withUser)
		lookup := func(_ context.Context, userID, chatID uint, key string, _ time.Time) (bool, error) {
			if userID != 9 || chatID != 3 || key != "k-9" {
				t.Fatalf("unexpected lookup args: %d %d %q", userID, chatID, key)
			}
			return true, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/ai/chats/:id/send-message", func(c *gin.Context) {
			if !IsReplay(c) {
				t.Fatalf("expected IsReplay=true on hit")
			}
			if !IsRateBypass(c) {
				t.Fatalf("expected IsRateBypass=true on hit")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/ai/chats/3/send-message", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("hit: expected 200, got %d", w.Code)
		}
	})

	t.Run("no lookup without a user or numeric id", func(t *testing.T) {
		called := false
		lookup := func(context.Context, uint, uint, string, time.Time) (bool, error) {
			called = true
			return true, nil
		}

		anon := gin.New()
		anon.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		anon.POST("/ai/chats/:id/send-message", func(c *gin.Context) { c.Status(http.StatusOK) })

		authed := gin.New()
		authed.Use(withUser, IdempotencyValidator(IdempotencyOptions{}, lookup))
		authed.POST("/ai/chats/:id/send-message", func(c *gin.Context) { c.Status(http.StatusOK) })

		for _, tc := range []struct {
			r    *gin.Engine
			path string
		}{
			{anon, "/ai/chats/1/send-message"},
			{authed, "/ai/chats/abc/send-message"},
			{authed, "/ai/chats/0/send-message"},
		} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			req.Header.Set(HeaderIdempotencyKey, "k")
			tc.r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", tc.path, w.Code)
			}
		}
		if called {
			t.Fatalf("lookup must be skipped")
		}
	})
}

func TestIdempotencyValidator_LookupErrorTreatedAsFresh(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(userIDKey, uint(5)); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, uint, uint, string, time.Time) (bool, error) {
		return true, errors.New("database is closed")
	}))
	r.POST("/ai/chats/:id/send-message", func(c *gin.Context) {
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("a failed lookup must not mark a replay")
		}
		if key, _ := GetIdempotencyKey(c); key != "retry-1" {
			t.Fatalf("key = %q", key)
		}
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ai/chats/8/send-message", nil)
	req.Header.Set(HeaderIdempotencyKey, "retry-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestIdempotencyValidator_ReplayOnlyOnSendMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := 0
	lookup := func(context.Context, uint, uint, string, time.Time) (bool, error) {
		called++
		return true, nil
	}
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(userIDKey, uint(9)); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	check := func(c *gin.Context) {
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("%s %s must not be a replay", c.Request.Method, c.FullPath())
		}
		if key, _ := GetIdempotencyKey(c); key != "k1" {
			t.Fatalf("key = %q", key)
		}
		c.Status(http.StatusOK)
	}
	r.GET("/ai/chats/:id", check)
	r.GET("/ai/chats/:id/send-message", check)
	r.DELETE("/ai/chats/:id", check)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/ai/chats/3"},
		{http.MethodGet, "/ai/chats/3/send-message"},
		{http.MethodDelete, "/ai/chats/3"},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", tc.method, tc.path, w.Code)
		}
	}
	if called != 0 {
		t.Fatalf("lookup called %d times outside send-message", called)
	}
}
