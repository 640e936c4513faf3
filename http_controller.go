package accounts

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// SessionCookieName is the cookie the login handlers set alongside the JSON
// response body.
const SessionCookieName = "session_token"

// AccountControllerRoutes are the mount points for the account endpoints.
type AccountControllerRoutes struct {
	RequestCode       string
	VerifyCode        string
	ConfirmEmail      string
	CreateCredentials string
	Login             string
	GuestLogin        string
	CheckStatus       string
	SyncStatus        string
}

// AccountController wires the protocol components to the HTTP surface.
type AccountController struct {
	Debug       bool
	Logger      Logger
	Codes       *CodeService
	Status      *Reconciler
	Credentials *Credentials
	Sessions    *SessionIssuer
	Mailer      Mailer
	Codec       TokenCodec
	Routes      *AccountControllerRoutes

	// ConfirmView, when set, renders the confirm-email result through the
	// app's view engine; empty means plain JSON.
	ConfirmView string

	baseURL    string
	confirmTTL time.Duration
}

// AccountControllerOption configures an AccountController.
type AccountControllerOption func(*AccountController) *AccountController

// NewAccountController builds the controller, panicking on missing
// collaborators since there is no sane way to serve without them.
func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger: defLogger{},
		Routes: &AccountControllerRoutes{
			RequestCode:       "/auth/request-code",
			VerifyCode:        "/auth/verify-code",
			ConfirmEmail:      "/auth/confirm-email",
			CreateCredentials: "/auth/create-credentials",
			Login:             "/auth/login",
			GuestLogin:        "/auth/guest-login",
			CheckStatus:       "/auth/check-status",
			SyncStatus:        "/auth/sync-status",
		},
		confirmTTL: 30 * time.Minute,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Codes == nil {
		panic("Missing CodeService in account controller...")
	}
	if c.Status == nil {
		panic("Missing Reconciler in account controller...")
	}
	if c.Credentials == nil {
		panic("Missing Credentials in account controller...")
	}
	if c.Sessions == nil {
		panic("Missing SessionIssuer in account controller...")
	}
	if c.Mailer == nil {
		panic("Missing Mailer in account controller...")
	}
	if c.Codec == nil {
		panic("Missing TokenCodec in account controller...")
	}

	return c
}

// WithComponents sets the protocol collaborators.
func WithComponents(codec TokenCodec, codes *CodeService, status *Reconciler, creds *Credentials, sessions *SessionIssuer) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Codec = codec
		c.Codes = codes
		c.Status = status
		c.Credentials = creds
		c.Sessions = sessions
		return c
	}
}

// WithMailer sets the outbound mailer.
func WithMailer(m Mailer) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Mailer = m
		return c
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if l != nil {
			c.Logger = l
		}
		return c
	}
}

// WithPublicBaseURL sets the base used to build confirmation links.
func WithPublicBaseURL(base string) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.baseURL = strings.TrimRight(base, "/")
		return c
	}
}

// WithConfirmTokenTTL sets the confirmation link lifetime.
func WithConfirmTokenTTL(ttl time.Duration) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if ttl > 0 {
			c.confirmTTL = ttl
		}
		return c
	}
}

// WithConfirmView renders confirm-email results through the view engine.
func WithConfirmView(view string) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.ConfirmView = view
		return c
	}
}

// RegisterRoutes mounts the account endpoints on the app.
func (a *AccountController) RegisterRoutes(app fiber.Router) {
	app.Post(a.Routes.RequestCode, a.RequestCode)
	app.Post(a.Routes.VerifyCode, a.VerifyCode)
	app.Get(a.Routes.ConfirmEmail, a.ConfirmEmail)
	app.Post(a.Routes.ConfirmEmail, a.ConfirmEmail)
	app.Post(a.Routes.CreateCredentials, a.CreateCredentials)
	app.Post(a.Routes.Login, a.Login)
	app.Post(a.Routes.GuestLogin, a.GuestLogin)
	app.Get(a.Routes.CheckStatus, a.CheckStatus)
	app.Post(a.Routes.CheckStatus, a.CheckStatus)
	app.Get(a.Routes.SyncStatus, a.SyncStatus)
	app.Post(a.Routes.SyncStatus, a.SyncStatus)
}

// RequestCodePayload is the request-code body.
type RequestCodePayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r RequestCodePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// RequestCode issues a verification code plus a confirmation link and sends
// both in one email. The code hash is persisted before the send: a store
// failure aborts the request, while a send failure after persistence is
// reported as a provider error and the orphaned code simply expires.
func (a *AccountController) RequestCode(ctx *fiber.Ctx) error {
	payload := new(RequestCodePayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return a.badRequest(ctx, err.Error())
	}

	email := NormalizeEmail(payload.Email)

	code, err := a.Codes.Issue(ctx.Context(), email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	link, err := a.confirmLink(email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	msg := verificationEmail(email, code, link, a.Codes.TTL())
	if err := a.Mailer.Send(msg); err != nil {
		a.Logger.Error("verification email send failed for %s: %v", email, err)
		return a.respondError(ctx, goerrors.Wrap(err, goerrors.CategoryOperation, "email provider error"))
	}

	return ctx.JSON(fiber.Map{"ok": true, "message": "Email sent."})
}

// VerifyCodePayload is the verify-code body.
type VerifyCodePayload struct {
	Email string `form:"email" json:"email"`
	Code  string `form:"code" json:"code"`
}

// Validate will run validation rules
func (r VerifyCodePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.By(validCodeShape)),
	)
}

func validCodeShape(value any) error {
	s, _ := value.(string)
	if len(NormalizeCode(s)) != codeLength {
		return fmt.Errorf("must be a %d-character code", codeLength)
	}
	return nil
}

// VerifyCode validates a submitted code and marks the email verified.
func (a *AccountController) VerifyCode(ctx *fiber.Ctx) error {
	payload := new(VerifyCodePayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return a.badRequest(ctx, err.Error())
	}

	email := NormalizeEmail(payload.Email)

	if err := a.Codes.Validate(ctx.Context(), email, payload.Code); err != nil {
		return a.respondError(ctx, err)
	}

	status, err := a.Status.Status(ctx.Context(), email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	message := "Code verified. If your email is not confirmed yet, click the link in the email."
	if status.Confirmed {
		message = "Code verified and email confirmed. You may proceed."
	}

	return ctx.JSON(fiber.Map{
		"ok":        true,
		"message":   message,
		"verified":  true,
		"confirmed": status.Confirmed,
	})
}

// ConfirmEmail handles the clicked confirmation link: verifies the token,
// checks the purpose discriminator, and marks the email confirmed.
func (a *AccountController) ConfirmEmail(ctx *fiber.Ctx) error {
	token := ctx.Query("token")
	if token == "" {
		var body struct {
			Token string `form:"token" json:"token"`
		}
		if err := ctx.BodyParser(&body); err == nil {
			token = body.Token
		}
	}
	if token == "" {
		return a.confirmResult(ctx, fiber.StatusBadRequest, "Missing confirmation token.")
	}

	claims, err := a.Codec.Verify(token)
	if err != nil || !claims.HasPurpose(PurposeConfirm) {
		return a.confirmResult(ctx, fiber.StatusBadRequest, "This confirmation link is invalid or has expired.")
	}

	email := claims.SubjectEmail()
	if email == "" {
		return a.confirmResult(ctx, fiber.StatusBadRequest, "This confirmation link is invalid or has expired.")
	}

	if _, err := a.Status.MarkConfirmed(ctx.Context(), email); err != nil {
		a.Logger.Error("confirm-email mark failed for %s: %v", email, err)
		return a.confirmResult(ctx, fiber.StatusInternalServerError, "Something went wrong. Please try the link again.")
	}

	return a.confirmResult(ctx, fiber.StatusOK, "Email confirmed! You can return to the site and finish verification.")
}

// CreateCredentialsPayload is the create-credentials body.
type CreateCredentialsPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r CreateCredentialsPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

// CreateCredentials creates the password credential for a fully proven email.
func (a *AccountController) CreateCredentials(ctx *fiber.Ctx) error {
	payload := new(CreateCredentialsPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return a.badRequest(ctx, err.Error())
	}

	rec, err := a.Credentials.Create(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"ok": true, "message": "Account created", "uid": rec.Email})
}

// LoginPayload accepts the current body shape plus the legacy aliases.
type LoginPayload struct {
	LoginID  string `form:"loginId" json:"loginId"`
	Email    string `form:"email" json:"email"`
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Identifier picks the first non-empty identity field.
func (r LoginPayload) Identifier() string {
	for _, v := range []string{r.LoginID, r.Email, r.Username} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
	)
}

// Login authenticates and issues a session token. All authentication
// failures map to the same generic response.
func (a *AccountController) Login(ctx *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return a.badRequest(ctx, err.Error())
	}
	loginID := payload.Identifier()
	if loginID == "" {
		return a.badRequest(ctx, "missing loginId or password")
	}

	if a.Debug {
		a.Logger.Debug("login payload: %s", print.MaybePrettyJSON(fiber.Map{"loginId": loginID}))
	}

	rec, err := a.Credentials.Authenticate(ctx.Context(), loginID, payload.Password)
	if err != nil {
		return a.respondError(ctx, err)
	}

	session, err := a.Sessions.IssueAuthenticated(rec.Email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	a.setSessionCookie(ctx, session)

	return ctx.JSON(fiber.Map{"ok": true, "email": rec.Email, "sessionToken": session.Token})
}

// GuestLogin issues an anonymous session token.
func (a *AccountController) GuestLogin(ctx *fiber.Ctx) error {
	session, err := a.Sessions.IssueGuest()
	if err != nil {
		return a.respondError(ctx, err)
	}

	a.setSessionCookie(ctx, session)

	return ctx.JSON(fiber.Map{"ok": true, "sessionToken": session.Token})
}

// CheckStatusPayload is the check-status body.
type CheckStatusPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r CheckStatusPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// CheckStatus reports the canonical status plus a credentials flag.
func (a *AccountController) CheckStatus(ctx *fiber.Ctx) error {
	email, err := a.emailFromRequest(ctx)
	if err != nil {
		return a.badRequest(ctx, err.Error())
	}

	status, err := a.Status.Status(ctx.Context(), email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"ok":             true,
		"email":          email,
		"verified":       status.Verified,
		"confirmed":      status.Confirmed,
		"hasCredentials": a.Credentials.Has(ctx.Context(), email),
	})
}

// SyncStatus runs an explicit reconcile and returns the merged record.
func (a *AccountController) SyncStatus(ctx *fiber.Ctx) error {
	email, err := a.emailFromRequest(ctx)
	if err != nil {
		return a.badRequest(ctx, err.Error())
	}

	merged, err := a.Status.Reconcile(ctx.Context(), email)
	if err != nil {
		return a.respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"ok":        true,
		"email":     merged.Email,
		"verified":  merged.Verified,
		"confirmed": merged.Confirmed,
		"status":    merged,
	})
}

/* ---------------- helpers ---------------- */

func (a *AccountController) emailFromRequest(ctx *fiber.Ctx) (string, error) {
	payload := CheckStatusPayload{Email: ctx.Query("email")}
	if payload.Email == "" && ctx.Method() != fiber.MethodGet {
		if err := ctx.BodyParser(&payload); err != nil {
			return "", fmt.Errorf("invalid request body")
		}
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	return NormalizeEmail(payload.Email), nil
}

func (a *AccountController) confirmLink(email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.confirmTTL)),
		},
		Email:   email,
		Purpose: PurposeConfirm,
	}

	token, err := a.Codec.Sign(claims)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%s?token=%s", a.baseURL, a.Routes.ConfirmEmail, url.QueryEscape(token)), nil
}

func (a *AccountController) confirmResult(ctx *fiber.Ctx, status int, message string) error {
	if a.ConfirmView != "" {
		return ctx.Status(status).Render(a.ConfirmView, fiber.Map{
			"ok":      status == fiber.StatusOK,
			"message": message,
		})
	}
	return ctx.Status(status).JSON(fiber.Map{"ok": status == fiber.StatusOK, "message": message})
}

func (a *AccountController) setSessionCookie(ctx *fiber.Ctx, session *SessionToken) {
	ctx.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		Path:     "/",
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *AccountController) badRequest(ctx *fiber.Ctx, message string) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": message})
}

// respondError maps structured errors onto HTTP responses. Store and
// provider failures surface as 502 so clients know to retry; everything
// else uses the error's own code.
func (a *AccountController) respondError(ctx *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "unexpected server error")
	}

	status := richErr.Code
	if richErr.Category == goerrors.CategoryOperation {
		status = fiber.StatusBadGateway
	}
	if status == 0 {
		status = fiber.StatusInternalServerError
	}

	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("request failed: %s (category %s)", richErr.Message, richErr.Category)
	}

	body := fiber.Map{"ok": false, "error": richErr.Message}
	if richErr.TextCode != "" {
		body["text_code"] = richErr.TextCode
	}

	return ctx.Status(status).JSON(body)
}

// verificationEmail renders the message carrying both proofs: the typed
// code and the confirmation link.
func verificationEmail(email, code, link string, ttl time.Duration) Email {
	minutes := int(ttl.Minutes())

	text := fmt.Sprintf(
		"Your code: %s\n\nPlease also confirm your email by clicking:\n%s\n\nThe code expires in %d minutes.",
		code, link, minutes,
	)

	html := fmt.Sprintf(`<div style="font-family:system-ui,Segoe UI,Roboto,Helvetica,Arial,sans-serif">
  <p>Your verification code:</p>
  <p style="font-size:24px;font-weight:700;letter-spacing:.08em">%s</p>
  <p><a href="%s">Click here to confirm your email</a></p>
  <p style="color:#4b5563">The code expires in %d minutes.</p>
</div>`, code, link, minutes)

	return Email{
		To:      email,
		Subject: "Verify your email",
		Text:    text,
		HTML:    html,
	}
}
