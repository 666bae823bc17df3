package service

import (
	"github.com/jmoiron/sqlx"
	"github.com/nsyszr/foodblog/pkg/config"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Migrate applies the pending migrations in dir. Each service keeps its
// own bookkeeping table so services may share a database.
func Migrate(db *sqlx.DB, dir, table string) (int, error) {
	ms := migrate.MigrationSet{TableName: table}
	migrations := &migrate.FileMigrationSource{
		Dir: dir,
	}

	n, err := ms.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		return n, errors.Wrap(err, "failed to apply database migrations")
	}
	return n, nil
}

// NewMigrateCommand returns the migrate command of a service.
func NewMigrateCommand(name string, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SetupLogging()
			log.Infof("Running %s SQL migration...", name)

			log.WithFields(log.Fields{"databaseUrl": cfg.DatabaseURL, "dir": cfg.MigrationsDir}).
				Debug("Application settings")

			db, err := OpenDB(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := Migrate(db, cfg.MigrationsDir, name+"_migrations")
			if err != nil {
				return err
			}
			log.Infof("Applied %d migrations!", n)
			return nil
		},
	}
}
