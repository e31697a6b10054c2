// seed/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/seed/seeders"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var (
		productFile = flag.String("file", "", "JSON file of products to seed (optional, defaults to built-in staples)")
		help        = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	db, err := gorm.Open(postgres.Open(databaseDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&model.BarcodeProduct{}); err != nil {
		log.Fatalf("Failed to migrate barcode table: %v", err)
	}

	barcodeSeeder := seeders.NewBarcodeSeeder(db)
	if err := barcodeSeeder.SeedProducts(*productFile); err != nil {
		log.Fatalf("Failed to seed barcode cache: %v", err)
	}

	log.Println("Seeding operation completed successfully!")
}

func databaseDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "postgres")
	password := envOr("DB_PASSWORD", "postgres")
	dbname := envOr("DB_NAME", "eatlock")
	sslmode := envOr("DB_SSLMODE", "disable")

	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslmode)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func showHelp() {
	log.Println(`
Barcode Cache Seeding Tool

Pre-warms the barcode product cache so common lookups never leave the
database.

Usage: go run seed/main.go [flags]

Flags:
  -file string
        JSON file of products to seed (array of {barcode, product_name,
        calories_per_serving, serving_size, macros}). When omitted, a
        built-in list of common staples is used.
  -help
        Show this help message

Examples:
  # Seed the built-in staples
  go run seed/main.go

  # Seed from a product dump
  go run seed/main.go -file=./products.json

Environment Variables:
  DATABASE_URL - Postgres DSN (or DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME)
`)
}
