package database

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

// DB holds the shared connection pool (exported so other packages can use it).
var DB *sqlx.DB

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Connect initializes the database connection from environment variables.
// A .env file in the working directory is loaded first when present, so local
// development works without exporting anything.
func Connect() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Warning: could not load .env file:", err)
	}

	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		log.Fatal("FATAL: DB_PASSWORD environment variable is not set")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "voiceframe"),
		password,
		envOr("DB_NAME", "voiceframe_db"),
		envOr("DB_SSLMODE", "disable"))

	db, err := sqlx.Connect("pgx", connStr)
	if err != nil {
		log.Fatalf("FATAL: unable to connect to database: %v\n", err)
	}

	maxOpen := 10
	if n, err := strconv.Atoi(os.Getenv("DB_MAX_OPEN_CONNS")); err == nil && n > 0 {
		maxOpen = n
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	DB = db
	log.Println("Connected to the database")
}
