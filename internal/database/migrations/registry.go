package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/ffpeaks/internal/models"
)

// AllMigrations returns every migration in version order.
func AllMigrations() []Migration {
	return []Migration{
		migration001TranscodeJobs(),
		migration002JobListingIndex(),
	}
}

func migration001TranscodeJobs() Migration {
	return Migration{
		Version:     "001",
		Description: "Create transcode_jobs table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.TranscodeJob{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.TranscodeJob{})
		},
	}
}

// jobListingIndex serves the status-filtered, newest-first history listing.
const jobListingIndex = "idx_transcode_jobs_status_id"

func migration002JobListingIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add status listing index to transcode_jobs",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.TranscodeJob{}, jobListingIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + jobListingIndex + " ON transcode_jobs (status, id)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.TranscodeJob{}, jobListingIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.TranscodeJob{}, jobListingIndex)
		},
	}
}
