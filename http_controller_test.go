package accounts_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/veridian-labs/go-accounts"
	"github.com/veridian-labs/go-accounts/blobstore"
)

type testConfig struct{}

func (testConfig) GetSigningKey() string             { return string(testSigningKey) }
func (testConfig) GetIssuer() string                 { return "test-issuer" }
func (testConfig) GetPublicBaseURL() string          { return "https://example.test" }
func (testConfig) GetCodeTTL() time.Duration         { return 10 * time.Minute }
func (testConfig) GetConfirmTokenTTL() time.Duration { return 30 * time.Minute }
func (testConfig) GetSessionTTL() time.Duration      { return time.Hour }
func (testConfig) GetGuestSessionTTL() time.Duration { return time.Hour }

// captureMailer records outbound email instead of sending it.
type captureMailer struct {
	sent []accounts.Email
	fail bool
}

func (m *captureMailer) Send(msg accounts.Email) error {
	if m.fail {
		return errors.New("smtp connection refused")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T) accounts.Email {
	t.Helper()
	require.NotEmpty(t, m.sent, "expected at least one email")
	return m.sent[len(m.sent)-1]
}

var (
	emailCodeRe  = regexp.MustCompile(`[BCDFGHJKMNPQRSTVWXYZ][AEU][BCDFGHJKMNPQRSTVWXYZ]-[BCDFGHJKMNPQRSTVWXYZ][AEU][BCDFGHJKMNPQRSTVWXYZ]`)
	emailTokenRe = regexp.MustCompile(`token=([^\s"<]+)`)
)

func (m *captureMailer) extract(t *testing.T) (code, token string) {
	t.Helper()
	msg := m.last(t)

	code = emailCodeRe.FindString(msg.Text)
	require.NotEmpty(t, code, "no code in email body:\n%s", msg.Text)

	match := emailTokenRe.FindStringSubmatch(msg.Text)
	require.Len(t, match, 2, "no confirmation link in email body:\n%s", msg.Text)
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return code, token
}

func newTestApp(t *testing.T) (*fiber.App, *captureMailer) {
	t.Helper()
	mail := &captureMailer{}
	ctrl := accounts.New(testConfig{}, blobstore.NewMemory(), mail, nil)

	app := fiber.New()
	ctrl.RegisterRoutes(app)
	return app, mail
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestAccountFlowEndToEnd(t *testing.T) {
	app, mail := newTestApp(t)
	email := "Flow@Example.com"

	// 1. Request a code.
	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/request-code", fiber.Map{"email": email})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	sent := mail.last(t)
	assert.Equal(t, "flow@example.com", sent.To)
	assert.Contains(t, sent.Text, "https://example.test/auth/confirm-email?token=")
	code, token := mail.extract(t)

	// 2. Neither proof alone unlocks credential creation.
	resp, body = doJSON(t, app, fiber.MethodPost, "/auth/create-credentials",
		fiber.Map{"email": email, "password": "hunter22hunter22"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "email_not_eligible", body["text_code"])

	// 3. Verify the code.
	resp, body = doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": email, "code": code})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, false, body["confirmed"])

	// 4. Click the confirmation link.
	resp, body = doJSON(t, app, fiber.MethodGet, "/auth/confirm-email?token="+url.QueryEscape(token), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	// 5. Status now reports both proofs, no credentials yet.
	resp, body = doJSON(t, app, fiber.MethodGet, "/auth/check-status?email="+url.QueryEscape(email), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, true, body["confirmed"])
	assert.Equal(t, false, body["hasCredentials"])

	// 6. Create credentials.
	resp, body = doJSON(t, app, fiber.MethodPost, "/auth/create-credentials",
		fiber.Map{"email": email, "password": "hunter22hunter22"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "flow@example.com", body["uid"])

	// 7. Log in and receive a session token plus cookie.
	resp, body = doJSON(t, app, fiber.MethodPost, "/auth/login",
		fiber.Map{"loginId": email, "password": "hunter22hunter22"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "flow@example.com", body["email"])
	assert.NotEmpty(t, body["sessionToken"])

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == accounts.SessionCookieName {
			cookie = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	assert.Equal(t, body["sessionToken"], cookie)

	// 8. Replaying the consumed code fails.
	resp, _ = doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": email, "code": code})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRequestCodeValidation(t *testing.T) {
	app, mail := newTestApp(t)

	cases := map[string]any{
		"missing email": fiber.Map{},
		"not an email":  fiber.Map{"email": "not-an-email"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := doJSON(t, app, fiber.MethodPost, "/auth/request-code", payload)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, false, body["ok"])
		})
	}
	assert.Empty(t, mail.sent)
}

func TestRequestCodeMailerFailure(t *testing.T) {
	app, mail := newTestApp(t)
	mail.fail = true

	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/request-code",
		fiber.Map{"email": "a@example.com"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, false, body["ok"])
}

func TestVerifyCodeRejections(t *testing.T) {
	app, mail := newTestApp(t)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": "a@example.com", "code": "short"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": "a@example.com", "code": "BAV-REK"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "code_not_found", body["text_code"])

	// Wrong code against a real one.
	_, _ = doJSON(t, app, fiber.MethodPost, "/auth/request-code", fiber.Map{"email": "a@example.com"})
	code, _ := mail.extract(t)
	wrong := "BAV-REK"
	if wrong == code {
		wrong = "BEV-RUK"
	}
	resp, body = doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": "a@example.com", "code": wrong})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "code_invalid", body["text_code"])

	// The retry with the right code still works.
	resp, _ = doJSON(t, app, fiber.MethodPost, "/auth/verify-code",
		fiber.Map{"email": "a@example.com", "code": code})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestConfirmEmailRejectsBadTokens(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("missing token", func(t *testing.T) {
		resp, _ := doJSON(t, app, fiber.MethodGet, "/auth/confirm-email", nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/auth/confirm-email?token=garbage", nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, false, body["ok"])
	})

	t.Run("session token is not a confirm token", func(t *testing.T) {
		codec := accounts.NewTokenCodec(testSigningKey, "test-issuer", nil)
		session, err := accounts.NewSessionIssuer(codec, 0, 0).IssueGuest()
		require.NoError(t, err)

		resp, _ := doJSON(t, app, fiber.MethodGet,
			"/auth/confirm-email?token="+url.QueryEscape(session.Token), nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestLoginFailuresAreUniform(t *testing.T) {
	app, _ := newTestApp(t)

	unknown, body1 := doJSON(t, app, fiber.MethodPost, "/auth/login",
		fiber.Map{"email": "ghost@example.com", "password": "whatever1"})
	assert.Equal(t, fiber.StatusUnauthorized, unknown.StatusCode)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/auth/login",
		fiber.Map{"password": "whatever1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "no identifier at all is a validation error")

	app2, mail := newTestApp(t)
	_, _ = doJSON(t, app2, fiber.MethodPost, "/auth/request-code", fiber.Map{"email": "a@example.com"})
	code, token := mail.extract(t)
	_, _ = doJSON(t, app2, fiber.MethodPost, "/auth/verify-code", fiber.Map{"email": "a@example.com", "code": code})
	_, _ = doJSON(t, app2, fiber.MethodGet, "/auth/confirm-email?token="+url.QueryEscape(token), nil)
	_, _ = doJSON(t, app2, fiber.MethodPost, "/auth/create-credentials",
		fiber.Map{"email": "a@example.com", "password": "hunter22hunter22"})

	wrongPwd, body2 := doJSON(t, app2, fiber.MethodPost, "/auth/login",
		fiber.Map{"email": "a@example.com", "password": "wrong-password"})
	assert.Equal(t, fiber.StatusUnauthorized, wrongPwd.StatusCode)

	// Unknown account and wrong password produce identical bodies.
	assert.Equal(t, body1, body2)
}

func TestGuestLogin(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/guest-login", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	token, _ := body["sessionToken"].(string)
	require.NotEmpty(t, token)

	codec := accounts.NewTokenCodec(testSigningKey, "test-issuer", nil)
	claims, err := accounts.NewSessionIssuer(codec, 0, 0).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleGuest, claims.Role)
}

func TestDuplicateCredentialsConflict(t *testing.T) {
	app, mail := newTestApp(t)
	_, _ = doJSON(t, app, fiber.MethodPost, "/auth/request-code", fiber.Map{"email": "a@example.com"})
	code, token := mail.extract(t)
	_, _ = doJSON(t, app, fiber.MethodPost, "/auth/verify-code", fiber.Map{"email": "a@example.com", "code": code})
	_, _ = doJSON(t, app, fiber.MethodGet, "/auth/confirm-email?token="+url.QueryEscape(token), nil)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/auth/create-credentials",
		fiber.Map{"email": "a@example.com", "password": "hunter22hunter22"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/create-credentials",
		fiber.Map{"email": "a@example.com", "password": "another-password"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "credentials_exist", body["text_code"])
}

func TestSyncStatusMergesLegacy(t *testing.T) {
	mail := &captureMailer{}
	stores := blobstore.NewMemory()
	ctrl := accounts.New(testConfig{}, stores, mail, nil)
	app := fiber.New()
	ctrl.RegisterRoutes(app)

	legacy := stores.Open(accounts.StoreLegacyStatus)
	raw := []byte(`{"verified":true,"verified_at":"2021-06-01T08:30:00Z","confirmed":true}`)
	require.NoError(t, legacy.Set(context.Background(), "old@example.com", raw))

	resp, body := doJSON(t, app, fiber.MethodPost, "/auth/sync-status",
		fiber.Map{"email": "Old@Example.com"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, true, body["confirmed"])
	assert.Equal(t, "old@example.com", body["email"])
}
