package config

import (
	"fmt"

	srvconfig "github.com/edgestore/edgestore/internal/edgesrv/config"
)

// EdgeStoreDsn returns the Postgres connection string for the store database.
func EdgeStoreDsn() string {
	db := srvconfig.Config().DB
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.DBName, db.SSLMode)
}
