package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/d4l-network/d4l-gateway/internal/database"
	"github.com/d4l-network/d4l-gateway/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testRepos struct {
	profiles  repository.ProfileRepository
	claims    repository.ClaimRepository
	analytics repository.AnalyticsRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()
	db := newTestDB(t)
	return testRepos{
		profiles:  repository.NewProfileRepository(db),
		claims:    repository.NewClaimRepository(db),
		analytics: repository.NewAnalyticsRepository(db),
	}
}
