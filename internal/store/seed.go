package store

import (
	"context"
	"fmt"

	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// Development seed credentials, created only when no administrative record
// exists. Override the password immediately in any shared environment.
const (
	SeedAdminUsername = "admin"
	SeedAdminEmail    = "admin@example.com"
	SeedAdminPassword = "admin123"
)

// EnsureSeed populates first-run data: a default administrative user when
// the users collection is empty and baseline settings when the settings
// collection is empty. Re-running against a populated store is a no-op.
func EnsureSeed(ctx context.Context, s Store, log logging.Logger) error {
	return s.Transact(ctx, func(ctx context.Context, tx Store) error {
		users, err := tx.FindAll(ctx, models.CollectionUsers, Query{Limit: 1})
		if err != nil {
			return fmt.Errorf("check users: %w", err)
		}
		if len(users) == 0 {
			hash, err := bcrypt.GenerateFromPassword([]byte(SeedAdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash seed password: %w", err)
			}
			admin, err := models.Fields(models.User{
				Username:     SeedAdminUsername,
				Email:        SeedAdminEmail,
				PasswordHash: string(hash),
				Role:         models.RoleAdmin,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Create(ctx, models.CollectionUsers, admin); err != nil {
				return fmt.Errorf("seed admin user: %w", err)
			}
			log.Info(ctx, "seeded default administrative user", "username", SeedAdminUsername)
		}

		settings, err := tx.FindAll(ctx, models.CollectionSettings, Query{Limit: 1})
		if err != nil {
			return fmt.Errorf("check settings: %w", err)
		}
		if len(settings) == 0 {
			defaults, err := models.Fields(models.Settings{
				SiteTitle:       "Portfolio",
				SiteDescription: "Personal portfolio site",
				Theme:           "light",
				ItemsPerPage:    10,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Create(ctx, models.CollectionSettings, defaults); err != nil {
				return fmt.Errorf("seed settings: %w", err)
			}
			log.Info(ctx, "seeded baseline settings")
		}
		return nil
	})
}
