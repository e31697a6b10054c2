package services

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/services/repositories"
	"github.com/eatlock-app/vision_api/shared"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PostgresService struct {
	context.DefaultService
	db *gorm.DB

	jobs     *repositories.VisionJobRepository
	barcodes *repositories.BarcodeRepository

	database string
}

const POSTGRES_SVC = "postgres_svc"

func (ds PostgresService) Id() string {
	return POSTGRES_SVC
}

func (ds PostgresService) Db() *gorm.DB {
	return ds.db
}

func (ds *PostgresService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DATABASE_URL")
	if ds.database == "" {
		// Fallback to individual environment variables
		host := os.Getenv("DB_HOST")
		if host == "" {
			host = "localhost"
		}
		port := os.Getenv("DB_PORT")
		if port == "" {
			port = "5432"
		}
		user := os.Getenv("DB_USER")
		if user == "" {
			user = "postgres"
		}
		password := os.Getenv("DB_PASSWORD")
		if password == "" {
			password = "postgres"
		}
		dbname := os.Getenv("DB_NAME")
		if dbname == "" {
			dbname = "eatlock"
		}
		sslmode := os.Getenv("DB_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		timezone := os.Getenv("DB_TIMEZONE")
		if timezone == "" {
			timezone = "UTC"
		}

		ds.database = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			host, user, password, dbname, port, sslmode, timezone)
	}

	return ds.DefaultService.Configure(ctx)
}

func (ds *PostgresService) Start() (err error) {
	// Retry connection with exponential backoff
	maxRetries := 10
	retryDelay := time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("Attempting to connect to database (attempt %d/%d)...", attempt, maxRetries)

		ds.db, err = gorm.Open(postgres.Open(ds.database), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Error),
		})

		if err == nil {
			sqlDB, dbErr := ds.db.DB()
			if dbErr == nil {
				pingErr := sqlDB.Ping()
				if pingErr == nil {
					log.Println("Successfully connected to database")
					break
				}
				err = pingErr
			} else {
				err = dbErr
			}
		}

		if attempt == maxRetries {
			log.Printf("Failed to connect to database after %d attempts: %v", maxRetries, err)
			return err
		}

		log.Printf("Database connection failed: %v. Retrying in %v...", err, retryDelay)
		time.Sleep(retryDelay)

		retryDelay *= 2
		if retryDelay > 10*time.Second {
			retryDelay = 10 * time.Second
		}
	}

	models := []interface{}{
		&model.VisionJob{},
		&model.VisionResult{},
		&model.BarcodeProduct{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	ds.jobs = repositories.NewVisionJobRepository(ds.db)
	ds.barcodes = repositories.NewBarcodeRepository(ds.db)

	ticker := time.NewTicker(24 * time.Hour)
	go func() {
		for range ticker.C {
			if err := ds.CleanupOldVisionJobs(); err != nil {
				log.Printf("Failed to cleanup old vision jobs: %v", err)
			}
		}
	}()

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *PostgresService) Shutdown() {
	sqlDB, err := ds.db.DB()
	if err == nil {
		sqlDB.Close()
	}
}

func (ds *PostgresService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *shared.AppError

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		appErr = shared.NewNotFoundError(err, "Record not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		appErr = shared.NewBadRequestError(err, "Duplicate record")
	default:
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			appErr = shared.NewBadRequestError(err, "Duplicate record")
		} else if strings.Contains(err.Error(), "connection refused") {
			appErr = shared.NewInternalError(err, "Database unavailable")
			appErr.Retryable = true
		} else {
			appErr = shared.NewInternalError(err, "Database error")
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": appErr.StatusCode,
		"error":       err.Error(),
	})

	if appErr.StatusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return appErr
}

// ==================== VISION JOB METHODS ====================

func (ds *PostgresService) CreateVisionJob(job *model.VisionJob) (*model.VisionJob, error) {
	job, err := ds.jobs.Create(job)
	if err != nil {
		return nil, ds.HandleError(err)
	}
	return job, nil
}

func (ds *PostgresService) GetVisionJob(id string) (*model.VisionJob, error) {
	job, err := ds.jobs.Get(id)
	if err != nil {
		return nil, ds.HandleError(err)
	}
	return job, nil
}

func (ds *PostgresService) MarkVisionJobProcessing(id string, attempts int) error {
	return ds.HandleError(ds.jobs.MarkProcessing(id, attempts))
}

func (ds *PostgresService) MarkVisionJobQueued(id string, attempts int, lastError string) error {
	return ds.HandleError(ds.jobs.MarkQueued(id, attempts, lastError))
}

func (ds *PostgresService) MarkVisionJobDone(id string) error {
	return ds.HandleError(ds.jobs.MarkDone(id))
}

func (ds *PostgresService) MarkVisionJobFailed(id string, lastError string) error {
	return ds.HandleError(ds.jobs.MarkFailed(id, lastError))
}

// ClaimVisionJobCleanup flips the cleanup flag for a job and reports
// whether this caller won the flip. Image deletion runs only for the
// winner, which keeps cleanup to one run per job across retries.
func (ds *PostgresService) ClaimVisionJobCleanup(id string) (bool, error) {
	claimed, err := ds.jobs.ClaimCleanup(id)
	if err != nil {
		return false, ds.HandleError(err)
	}
	return claimed, nil
}

func (ds *PostgresService) CleanupOldVisionJobs() error {
	return ds.jobs.DeleteFinishedBefore(time.Now().Add(-30 * 24 * time.Hour))
}

// ==================== VISION RESULT METHODS ====================

func (ds *PostgresService) SaveVisionResult(result *model.VisionResult) (*model.VisionResult, error) {
	result, err := ds.jobs.SaveResult(result)
	if err != nil {
		return nil, ds.HandleError(err)
	}
	return result, nil
}

func (ds *PostgresService) GetVisionResultByJob(jobID string) (*model.VisionResult, error) {
	result, err := ds.jobs.GetResultByJob(jobID)
	if err != nil {
		return nil, ds.HandleError(err)
	}
	return result, nil
}

// ==================== BARCODE METHODS ====================

// GetBarcodeProduct returns (nil, nil) on a cache miss so callers can
// fall through to the upstream lookup.
func (ds *PostgresService) GetBarcodeProduct(barcode string) (*model.BarcodeProduct, error) {
	product, err := ds.barcodes.GetByBarcode(barcode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, ds.HandleError(err)
	}
	return product, nil
}

func (ds *PostgresService) UpsertBarcodeProduct(product *model.BarcodeProduct) error {
	return ds.HandleError(ds.barcodes.Upsert(product))
}
