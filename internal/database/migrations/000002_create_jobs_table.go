package migrations

import (
	"github.com/dubinc/dub-sub034/internal/queue"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreateJobsTable creates the background jobs table
func CreateJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_jobs_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&queue.Job{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("jobs")
		},
	}
}

func init() {
	migrationsList = append(migrationsList, CreateJobsTable())
}
