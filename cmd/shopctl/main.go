package main

import (
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"shopsys/internal/cache"
	"shopsys/internal/config"
	"shopsys/internal/domain"
	"shopsys/internal/repository"
	"shopsys/internal/service"
)

func main() {
	app := &cli.App{
		Name:  "shopctl",
		Usage: "administer the shop database",
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Storage == string(repository.DialectMemory) {
				return errors.New("shopctl needs a persistent storage, set SHOP_STORAGE")
			}
			c.App.Metadata["config"] = cfg
			return config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Usage: "apply all pending migrations", Action: migrateUp},
					{
						Name:   "down",
						Usage:  "roll back migrations",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"}},
						Action: migrateDown,
					},
					{Name: "version", Usage: "print the schema version", Action: migrateVersion},
				},
			},
			{
				Name:      "add-user",
				Usage:     "create a login",
				ArgsUsage: "<username>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"SHOP_NEW_USER_PASSWORD"}},
					&cli.BoolFlag{Name: "admin", Usage: "grant catalog maintenance"},
				},
				Action: addUser,
			},
			{
				Name:      "add-product-type",
				Usage:     "create a product type",
				ArgsUsage: "<name>",
				Action:    addProductType,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("shopctl")
	}
}

func cfgFrom(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func migrator(c *cli.Context) (*repository.Migrator, error) {
	cfg := cfgFrom(c)
	dialect, err := repository.ParseDialect(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return repository.NewMigrator(c.Context, dialect, cfg.DatabaseDSN)
}

func migrateUp(c *cli.Context) error {
	m, err := migrator(c)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return err
	}
	return printVersion(m)
}

func migrateDown(c *cli.Context) error {
	steps := c.Int("steps")
	if steps < 1 {
		return errors.New("steps must be at least 1")
	}
	m, err := migrator(c)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Down(steps); err != nil {
		return err
	}
	return printVersion(m)
}

func migrateVersion(c *cli.Context) error {
	m, err := migrator(c)
	if err != nil {
		return err
	}
	defer m.Close()
	return printVersion(m)
}

func printVersion(m *repository.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d", v)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}

func openRepos(c *cli.Context) (*repository.Repositories, error) {
	cfg := cfgFrom(c)
	dialect, err := repository.ParseDialect(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return repository.Open(c.Context, dialect, cfg.DatabaseDSN, cfg.Migrate)
}

func addUser(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one username")
	}
	repos, err := openRepos(c)
	if err != nil {
		return err
	}
	defer repos.Close()

	role := domain.RoleUser
	if c.Bool("admin") {
		role = domain.RoleAdmin
	}
	u, err := service.NewUserService(repos.Users, 0).Register(c.Context, c.Args().First(), c.String("password"), role)
	if err != nil {
		return errors.Wrap(err, "add user")
	}
	log.WithFields(log.Fields{"id": u.ID, "username": u.Username, "role": u.Role}).Info("user created")
	return nil
}

func addProductType(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one name")
	}
	repos, err := openRepos(c)
	if err != nil {
		return err
	}
	defer repos.Close()

	// the server may cache the type list in redis
	var types service.TypeCache
	if addr := cfgFrom(c).RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		types = cache.NewProductTypes(client, cfgFrom(c).CacheTTL)
	}
	pt, err := service.NewProductService(repos.Catalog, types, 0).CreateType(c.Context, c.Args().First())
	if err != nil {
		return errors.Wrap(err, "add product type")
	}
	log.WithFields(log.Fields{"id": pt.ID, "name": pt.Name}).Info("product type created")
	return nil
}
