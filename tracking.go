package accounts

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TrackingControllerRoutes are the mount points for the infra inventory.
type TrackingControllerRoutes struct {
	Add    string
	List   string
	Delete string
}

// TrackingController is the CRUD surface over the website_infra store, the
// small inventory of which site runs where.
type TrackingController struct {
	Logger Logger
	Routes *TrackingControllerRoutes

	store Store
	now   func() time.Time
}

// NewTrackingController builds the tracking controller.
func NewTrackingController(stores StoreProvider, logger Logger) *TrackingController {
	if stores == nil {
		panic("Missing StoreProvider in tracking controller...")
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &TrackingController{
		Logger: logger,
		Routes: &TrackingControllerRoutes{
			Add:    "/infra/tracking",
			List:   "/infra/tracking",
			Delete: "/infra/tracking/delete",
		},
		store: stores.Open(StoreWebsiteInfra),
		now:   time.Now,
	}
}

// RegisterRoutes mounts the tracking endpoints on the app.
func (t *TrackingController) RegisterRoutes(app fiber.Router) {
	app.Post(t.Routes.Add, t.Add)
	app.Get(t.Routes.List, t.List)
	app.Post(t.Routes.Delete, t.Delete)
}

// TrackingPayload is the add body.
type TrackingPayload struct {
	Website          string `form:"website" json:"website"`
	HostedOn         string `form:"hostedOn" json:"hostedOn"`
	CodeStoredOn     string `form:"codeStoredOn" json:"codeStoredOn"`
	WebsiteEmail     string `form:"websiteEmail" json:"websiteEmail"`
	CorporateEmail   string `form:"corporateEmail" json:"corporateEmail"`
	AIDilemmaService string `form:"aiDilemmaService" json:"aiDilemmaService"`
}

// Validate will run validation rules
func (r TrackingPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Website, validation.Required, validation.Length(1, 200)),
	)
}

// Add stores a new tracking record under a fresh key.
func (t *TrackingController) Add(ctx *fiber.Ctx) error {
	payload := new(TrackingPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid request body"})
	}
	if err := payload.Validate(); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}

	rec := TrackingRecord{
		Website:          payload.Website,
		HostedOn:         payload.HostedOn,
		CodeStoredOn:     payload.CodeStoredOn,
		WebsiteEmail:     payload.WebsiteEmail,
		CorporateEmail:   payload.CorporateEmail,
		AIDilemmaService: payload.AIDilemmaService,
		CreatedAt:        t.now(),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return t.fail(ctx, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode tracking record"))
	}

	key := "record_" + uuid.NewString()
	if err := t.store.Set(ctx.Context(), key, raw); err != nil {
		return t.fail(ctx, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to add tracking record"))
	}

	return ctx.JSON(fiber.Map{"ok": true, "key": key})
}

// List returns every tracking record. Records that fail to decode are
// skipped with a warning instead of failing the listing.
func (t *TrackingController) List(ctx *fiber.Ctx) error {
	keys, err := t.store.List(ctx.Context())
	if err != nil {
		return t.fail(ctx, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to list tracking records"))
	}

	records := make([]TrackingRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := t.store.Get(ctx.Context(), key)
		if err != nil {
			t.Logger.Warn("tracking record %s unreadable: %v", key, err)
			continue
		}
		var rec TrackingRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.Logger.Warn("tracking record %s undecodable: %v", key, err)
			continue
		}
		records = append(records, rec)
	}

	return ctx.JSON(fiber.Map{"ok": true, "records": records})
}

// DeleteTrackingPayload is the delete body.
type DeleteTrackingPayload struct {
	Key string `form:"key" json:"key"`
}

// Validate will run validation rules
func (r DeleteTrackingPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Key, validation.Required),
	)
}

// Delete removes one tracking record by key.
func (t *TrackingController) Delete(ctx *fiber.Ctx) error {
	payload := new(DeleteTrackingPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid request body"})
	}
	if err := payload.Validate(); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}

	if err := t.store.Delete(ctx.Context(), payload.Key); err != nil {
		return t.fail(ctx, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to delete tracking record"))
	}

	return ctx.JSON(fiber.Map{"ok": true, "deleted": payload.Key})
}

func (t *TrackingController) fail(ctx *fiber.Ctx, err error) error {
	t.Logger.Error("tracking endpoint error: %v", err)
	return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{"ok": false, "error": "store unavailable"})
}
