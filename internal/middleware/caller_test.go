package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/auth"
	"github.com/congo-pay/custody_ledger/internal/dispatch"
)

func callerApp(t *testing.T, tokens *auth.CallerTokens, cache *redis.Client, limit int) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Post("/execute", CallerAuth(tokens), ExecuteRateLimit(cache, limit), func(c *fiber.Ctx) error {
		caller, _ := c.Locals(dispatch.CallerLocal).(account.Address)
		return c.SendString(caller.String())
	})
	return app
}

func request(t *testing.T, app *fiber.App, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/execute", nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestCallerAuth(t *testing.T) {
	codec := account.NewCodec(account.DefaultPrefix)
	tokens, err := auth.NewCallerTokens("s3cret", codec)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	app := callerApp(t, tokens, nil, 0)

	if status := request(t, app, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status := request(t, app, "garbage"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}

	token, _, err := tokens.Issue(codec.MustGenerate(), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if status := request(t, app, token); status != fiber.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", status)
	}
}

func TestExecuteRateLimitPerCaller(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	codec := account.NewCodec(account.DefaultPrefix)
	tokens, _ := auth.NewCallerTokens("s3cret", codec)
	app := callerApp(t, tokens, cache, 2)

	alice, _, _ := tokens.Issue(codec.MustGenerate(), time.Minute)
	bob, _, _ := tokens.Issue(codec.MustGenerate(), time.Minute)

	for i := 0; i < 2; i++ {
		if status := request(t, app, alice); status != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	if status := request(t, app, alice); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status := request(t, app, bob); status != fiber.StatusOK {
		t.Fatalf("other caller limited: %d", status)
	}

	mr.FastForward(time.Minute)
	if status := request(t, app, alice); status != fiber.StatusOK {
		t.Fatalf("expected window reset, got %d", status)
	}
}
