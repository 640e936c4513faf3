package accounts

import (
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
)

// accountStores are every store holding per-email records, in the order the
// admin endpoints scan them.
var accountStores = []string{
	StoreUserCredentials,
	StoreEmailStatus,
	StoreLegacyStatus,
	StoreEmailCodes,
	StoreEmailIndex,
	StoreLegacyUsers,
}

// AdminControllerRoutes are the mount points for the maintenance endpoints.
type AdminControllerRoutes struct {
	ListEmails   string
	DeleteEmails string
}

// AdminController exposes the maintenance surface: listing every known email
// across the account stores and purging addresses from all of them.
type AdminController struct {
	Logger Logger
	Routes *AdminControllerRoutes

	stores StoreProvider
}

// NewAdminController builds the maintenance controller.
func NewAdminController(stores StoreProvider, logger Logger) *AdminController {
	if stores == nil {
		panic("Missing StoreProvider in admin controller...")
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &AdminController{
		Logger: logger,
		Routes: &AdminControllerRoutes{
			ListEmails:   "/admin/emails",
			DeleteEmails: "/admin/emails/delete",
		},
		stores: stores,
	}
}

// RegisterRoutes mounts the maintenance endpoints on the app.
func (a *AdminController) RegisterRoutes(app fiber.Router) {
	app.Get(a.Routes.ListEmails, a.ListEmails)
	app.Post(a.Routes.DeleteEmails, a.DeleteEmails)
}

// ListEmails scans the account stores and returns the union of keys that
// look like email addresses. Stores that do not exist yet are skipped.
func (a *AdminController) ListEmails(ctx *fiber.Ctx) error {
	seen := map[string]struct{}{}

	for _, name := range accountStores {
		keys, err := a.stores.Open(name).List(ctx.Context())
		if err != nil {
			a.Logger.Warn("list emails: skipping store %s: %v", name, err)
			continue
		}
		for _, key := range keys {
			if strings.Contains(key, "@") {
				seen[key] = struct{}{}
			}
		}
	}

	emails := make([]string, 0, len(seen))
	for email := range seen {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	return ctx.JSON(fiber.Map{"ok": true, "emails": emails})
}

// DeleteEmailsPayload is the purge body.
type DeleteEmailsPayload struct {
	Emails []string `form:"emails" json:"emails"`
}

// Validate will run validation rules
func (r DeleteEmailsPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Emails, validation.Required, validation.Length(1, 100)),
	)
}

// DeleteEmails removes the given addresses from every account store.
// Individual delete failures are logged and skipped so one missing store
// does not abort the purge.
func (a *AdminController) DeleteEmails(ctx *fiber.Ctx) error {
	payload := new(DeleteEmailsPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid request body"})
	}
	if err := payload.Validate(); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}

	keys := make([]string, 0, len(payload.Emails))
	for _, email := range payload.Emails {
		if key := NormalizeEmail(email); key != "" {
			keys = append(keys, key)
		}
	}

	for _, name := range accountStores {
		store := a.stores.Open(name)
		for _, key := range keys {
			if err := store.Delete(ctx.Context(), key); err != nil {
				a.Logger.Warn("delete emails: %s/%s: %v", name, key, err)
			}
		}
	}

	return ctx.JSON(fiber.Map{"ok": true, "deleted": keys})
}
