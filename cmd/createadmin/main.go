package main

import (
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

// Seeds an admin user. There is no self-serve registration; operators run
// this against the target database.
func main() {
	email := flag.String("email", "", "admin email (required)")
	name := flag.String("name", "", "full name (required)")
	password := flag.String("password", "", "initial password (required)")
	role := flag.String("role", "support", "role: admin or support")
	flag.Parse()

	if *email == "" || *name == "" || *password == "" {
		flag.Usage()
		log.Fatal("email, name and password are required")
	}
	if *role != "admin" && *role != "support" {
		log.Fatalf("invalid role %q", *role)
	}
	if ok, reason := utils.ValidatePasswordPolicy(*password, *email); !ok {
		log.Fatalf("password rejected: %s", reason)
	}

	database.Connect()

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	id := uuid.New()
	_, err = database.DB.Exec(
		`INSERT INTO admin_users (id, email, full_name, hashed_password, role, created_at, updated_at)
		 VALUES ($1, lower($2), $3, $4, $5, $6, $6)`,
		id, *email, *name, hashed, *role, time.Now())
	if err != nil {
		log.Fatalf("insert admin: %v", err)
	}
	log.Printf("created %s user %s (%s)", *role, *email, id)
}
