package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

func TestEnsureSeed(t *testing.T) {
	bothEngines(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, EnsureSeed(ctx, s, discardLogger()))

		admin, err := s.FindOne(ctx, models.CollectionUsers, "username", SeedAdminUsername)
		require.NoError(t, err)
		require.Equal(t, SeedAdminEmail, admin.Fields["email"])
		require.Equal(t, models.RoleAdmin, admin.Fields["role"])

		hash, _ := admin.Fields["passwordHash"].(string)
		require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(SeedAdminPassword)))

		settings, err := s.FindAll(ctx, models.CollectionSettings, Query{})
		require.NoError(t, err)
		require.Len(t, settings, 1)

		// Idempotent across repeated startups.
		require.NoError(t, EnsureSeed(ctx, s, discardLogger()))

		users, err := s.FindAll(ctx, models.CollectionUsers, Query{})
		require.NoError(t, err)
		require.Len(t, users, 1)
	})
}
