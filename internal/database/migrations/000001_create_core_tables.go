package migrations

import (
	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreateCoreTables creates the link, program, and conversion tables
func CreateCoreTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_core_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				// Links and related entities
				&models.Link{},
				&models.Tag{},
				&models.Webhook{},

				// Programs and partners
				&models.Program{},
				&models.Partner{},
				&models.PartnerGroup{},
				&models.ProgramEnrollment{},

				// Rewards and discounts
				&models.Reward{},
				&models.Discount{},

				// Conversions
				&models.Customer{},
				&models.Commission{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				"commissions",
				"customers",
				"discounts",
				"rewards",
				"program_enrollments",
				"partner_groups",
				"partners",
				"programs",
				"link_webhooks",
				"link_tags",
				"webhooks",
				"tags",
				"links",
			)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, CreateCoreTables())
}
