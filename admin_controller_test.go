package accounts_test

import (
	"context"
	"testing"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/veridian-labs/go-accounts"
	"github.com/veridian-labs/go-accounts/blobstore"
)

func newAdminApp(t *testing.T) (*fiber.App, *blobstore.Memory) {
	t.Helper()
	stores := blobstore.NewMemory()
	app := fiber.New()
	accounts.NewAdminController(stores, nil).RegisterRoutes(app)
	return app, stores
}

func TestAdminListEmails(t *testing.T) {
	ctx := context.Background()
	app, stores := newAdminApp(t)

	require.NoError(t, stores.Open(accounts.StoreEmailStatus).Set(ctx, "b@example.com", []byte("{}")))
	require.NoError(t, stores.Open(accounts.StoreUserCredentials).Set(ctx, "a@example.com", []byte("{}")))
	// Same address in two stores counts once.
	require.NoError(t, stores.Open(accounts.StoreEmailCodes).Set(ctx, "a@example.com", []byte("{}")))
	// Non-email keys stay out of the listing.
	require.NoError(t, stores.Open(accounts.StoreLegacyUsers).Set(ctx, "olduser", []byte("{}")))

	resp, body := doJSON(t, app, fiber.MethodGet, "/admin/emails", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"a@example.com", "b@example.com"}, body["emails"])
}

func TestAdminDeleteEmails(t *testing.T) {
	ctx := context.Background()
	app, stores := newAdminApp(t)

	for _, name := range []string{accounts.StoreEmailStatus, accounts.StoreUserCredentials, accounts.StoreEmailIndex} {
		require.NoError(t, stores.Open(name).Set(ctx, "gone@example.com", []byte("{}")))
	}
	require.NoError(t, stores.Open(accounts.StoreEmailStatus).Set(ctx, "kept@example.com", []byte("{}")))

	resp, body := doJSON(t, app, fiber.MethodPost, "/admin/emails/delete",
		fiber.Map{"emails": []string{"Gone@Example.com"}})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"gone@example.com"}, body["deleted"])

	for _, name := range []string{accounts.StoreEmailStatus, accounts.StoreUserCredentials, accounts.StoreEmailIndex} {
		_, err := stores.Open(name).Get(ctx, "gone@example.com")
		assert.True(t, goerrors.IsNotFound(err), "store %s should no longer hold the email", name)
	}
	_, err := stores.Open(accounts.StoreEmailStatus).Get(ctx, "kept@example.com")
	assert.NoError(t, err)
}

func TestAdminDeleteEmailsValidation(t *testing.T) {
	app, _ := newAdminApp(t)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/admin/emails/delete", fiber.Map{"emails": []string{}})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/admin/emails/delete", fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
