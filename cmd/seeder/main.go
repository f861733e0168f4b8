//cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type seedFile struct {
	WorkspaceID string `yaml:"workspace_id"`
	Leads       []struct {
		Email     string `yaml:"email"`
		FirstName string `yaml:"first_name"`
		LastName  string `yaml:"last_name"`
		Company   string `yaml:"company"`
		Title     string `yaml:"title"`
		Industry  string `yaml:"industry"`
	} `yaml:"leads"`
}

func main() {
	godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	ctx := context.Background()

	conn, err := db.Open(ctx, dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn); err != nil {
		log.Fatal(err)
	}

	seedFiles := os.Args[1:]
	if len(seedFiles) == 0 {
		seedFiles = []string{"seed/leads.yaml"}
	}

	leads := repository.NewPostgresStore(conn).Leads
	for _, file := range seedFiles {
		n, err := seedLeads(ctx, leads, file)
		if err != nil {
			log.Fatalf("failed to seed %s: %v", file, err)
		}
		fmt.Printf("Seeded %d leads from %s\n", n, file)
	}

	fmt.Println("Database seeding completed successfully!")
}

// seedLeads creates the leads listed in file, skipping emails the workspace
// already has.
func seedLeads(ctx context.Context, repo repository.LeadRepositoryInterface, file string) (int, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return 0, fmt.Errorf("parse %s: %w", file, err)
	}
	if seed.WorkspaceID == "" {
		return 0, fmt.Errorf("%s: workspace_id is required", file)
	}

	created := 0
	for _, l := range seed.Leads {
		email := strings.ToLower(strings.TrimSpace(l.Email))
		existing, err := repo.FindByEmail(ctx, seed.WorkspaceID, email)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		lead := &model.Lead{
			WorkspaceID: seed.WorkspaceID,
			Email:       email,
			FirstName:   l.FirstName,
			LastName:    l.LastName,
			Company:     l.Company,
			Title:       l.Title,
			Industry:    l.Industry,
		}
		if err := repo.Create(ctx, lead); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
