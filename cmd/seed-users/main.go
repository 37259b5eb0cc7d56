// seed-users creates the admin, buyer and supplier users for a fresh environment.
// Existing usernames are left untouched.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... SEED_PASSWORD=... go run ./cmd/seed-users
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/models"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/go-playground/validator/v10"
)

var seedUsers = []models.NewUser{
	{Username: "aftersalesAdmin", Name: "After-sales Admin", Role: "admin"},
	{Username: "buyer", Name: "Default Buyer", Role: "buyer"},
	{Username: "supplier", Name: "Default Supplier", Role: "supplier"},
}

func main() {
	ctx := context.Background()

	password := strings.TrimSpace(os.Getenv("SEED_PASSWORD"))
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_PASSWORD is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	validate := validator.New()
	failed := false
	for _, u := range seedUsers {
		u.Password = password
		if err := validate.Struct(u); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", u.Username, utils.ProcessValidationErrors(err))
			os.Exit(2)
		}
		created, err := models.CreateUser(ctx, &u)
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				fmt.Printf("%s already exists; skipped\n", u.Username)
				continue
			}
			fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", u.Username, err)
			failed = true
			continue
		}
		fmt.Printf("created %s (%s) id=%s\n", created.Username, created.Role, created.ID)
	}
	if failed {
		os.Exit(1)
	}
}
