package main

import (
	"fmt"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/modelguard/modelguard/internal/data/model"
)

func setupDBConnection(connStr string) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = database.AutoMigrate(&model.Scan{}, &model.Finding{}, &model.Policy{},
		&model.PolicyChangeRequest{}, &model.Exception{}, &model.AuditEntry{})
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	return database, nil
}

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = "host=localhost port=5432 user=test_user dbname=test_db password=test_password sslmode=disable"
	}
	_, err := setupDBConnection(connStr)
	if err != nil {
		log.Fatalf("failed to setup database connection: %v", err)
	}
}
