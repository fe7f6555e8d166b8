package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
)

// In order to connect to Postgresql you need to fill out all the fields.
//
// To connect to sqlite, you just need to specify "sqlite" driver.
// By default it will use in-memory database. You can provide WALLETNODE_DATABASE_NAME to use the file.
type DatabaseConfig struct {
	URL      string `env:"WALLETNODE_DATABASE_URL" env-default:""`
	Name     string `env:"WALLETNODE_DATABASE_NAME" env-default:""`
	Schema   string `env:"WALLETNODE_DATABASE_SCHEMA" env-default:""`
	Driver   string `env:"WALLETNODE_DATABASE_DRIVER" env-default:"sqlite"`
	Username string `env:"WALLETNODE_DATABASE_USERNAME" env-default:"postgres"`
	Password string `env:"WALLETNODE_DATABASE_PASSWORD" env-default:""`
	Host     string `env:"WALLETNODE_DATABASE_HOST" env-default:"localhost"`
	Port     string `env:"WALLETNODE_DATABASE_PORT" env-default:"5432"`
	Retries  int    `env:"WALLETNODE_DATABASE_RETRIES" env-default:"5"`
}

// ParseConnectionString parses a PostgreSQL URI or a sqlite "file:" DSN.
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	// SQLite detection: starts with "file:"
	if strings.HasPrefix(connStr, "file:") {
		parts := strings.SplitN(connStr[5:], "?", 2)
		return DatabaseConfig{
			Name:    parts[0],
			Driver:  "sqlite",
			Retries: 1,
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}

	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	username, password := "", ""
	if user := parsedURL.User; user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	port := parsedURL.Port()
	if port == "" {
		port = "5432"
	}

	retries := 5
	query := parsedURL.Query()
	if r := query.Get("retries"); r != "" {
		if retryVal, err := strconv.Atoi(r); err == nil {
			retries = retryVal
		}
	}

	return DatabaseConfig{
		Name:     strings.TrimPrefix(parsedURL.Path, "/"),
		Schema:   query.Get("search_path"),
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     parsedURL.Hostname(),
		Port:     port,
		Retries:  retries,
	}, nil
}

func ConnectToDB(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	logger = logger.WithName("database")

	switch cnf.Driver {
	case "postgres":
		return connectToPostgresql(cnf, logger)
	case "sqlite", "":
		return connectToSqlite(cnf, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func connectToPostgresql(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	logger.Info("connecting to Postgresql", "host", cnf.Host, "database", cnf.Name)
	if err := ensurePostgresqlSchema(cnf, logger); err != nil {
		return nil, errors.Wrap(err, "failed to ensure Postgresql schema")
	}

	if err := migratePostgres(cnf, logger); err != nil {
		return nil, errors.Wrap(err, "failed to apply Postgresql migrations")
	}

	dsn, err := postgresqlDbUrl(cnf)
	if err != nil {
		return nil, err
	}

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: namingStrategy(cnf),
	})
}

func connectToSqlite(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		logger.Info("connecting to sqlite", "file", cnf.Name)
		dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
	} else {
		logger.Info("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: namingStrategy(cnf),
	})
	if err != nil {
		return nil, err
	}

	if err := migrateSqlite(db); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate sqlite")
	}
	logger.Info("successfully auto-migrated")

	return db, nil
}

func namingStrategy(cnf DatabaseConfig) schema.NamingStrategy {
	if cnf.Schema == "" {
		return schema.NamingStrategy{}
	}
	return schema.NamingStrategy{TablePrefix: cnf.Schema + "."}
}

func postgresqlDbUrl(cnf DatabaseConfig) (string, error) {
	switch cnf.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
			cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
		)

		if cnf.Schema != "" {
			dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
		}

		return dsn, nil

	default:
		return "", fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func ensurePostgresqlSchema(cnf DatabaseConfig, logger log.Logger) error {
	if cnf.Schema == "" {
		logger.Debug("no schema specified, skipping schema creation")
		return nil
	}

	dbConf := cnf
	dbConf.Schema = ""
	dsn, err := postgresqlDbUrl(dbConf)
	if err != nil {
		return err
	}

	db, err := sqlx.Connect(dbConf.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var exists bool
	if err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)", cnf.Schema); err != nil {
		return errors.Wrap(err, "error while checking schema existence")
	}
	if exists {
		logger.Debug("schema already exists", "schema", cnf.Schema)
		return nil
	}

	if _, err = db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cnf.Schema)); err != nil {
		return errors.Wrap(err, "error while creating schema")
	}

	logger.Info("schema created", "schema", cnf.Schema)
	return nil
}

func migratePostgres(cnf DatabaseConfig, logger log.Logger) error {
	dsn, err := postgresqlDbUrl(cnf)
	if err != nil {
		return err
	}

	db, err := goose.OpenDBWithDriver(cnf.Driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if cnf.Schema != "" {
		if _, err := db.Exec(fmt.Sprintf("SET search_path TO %s", cnf.Schema)); err != nil {
			return fmt.Errorf("failed to set search path: %w", err)
		}
	}

	logger.Info("applying database migrations")
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "config/migrations/"+cnf.Driver); err != nil {
		return err
	}

	logger.Info("applied migrations")
	return nil
}

func migrateSqlite(db *gorm.DB) error {
	return db.AutoMigrate(&RPCRecord{})
}
