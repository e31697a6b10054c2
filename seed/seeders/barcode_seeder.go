package seeders

import (
	"encoding/json"
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/eatlock-app/vision_api/model"
)

// BarcodeSeeder pre-warms the barcode product cache
type BarcodeSeeder struct {
	db *gorm.DB
}

func NewBarcodeSeeder(db *gorm.DB) *BarcodeSeeder {
	return &BarcodeSeeder{db: db}
}

type productSeed struct {
	Barcode            string             `json:"barcode"`
	ProductName        string             `json:"product_name"`
	CaloriesPerServing float64            `json:"calories_per_serving"`
	ServingSize        string             `json:"serving_size"`
	Macros             map[string]float64 `json:"macros"`
}

// SeedProducts loads products from a JSON file, or the built-in staples
// when no file is given, and inserts the ones the cache doesn't know.
func (s *BarcodeSeeder) SeedProducts(filePath string) error {
	products, err := s.loadProducts(filePath)
	if err != nil {
		return err
	}

	log.Printf("Seeding %d barcode products...", len(products))

	for _, seed := range products {
		var existing model.BarcodeProduct
		if err := s.db.Where("barcode = ?", seed.Barcode).First(&existing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				product, buildErr := s.buildProduct(seed)
				if buildErr != nil {
					log.Printf("Error building product %s: %v", seed.Barcode, buildErr)
					return buildErr
				}
				if err := s.db.Create(product).Error; err != nil {
					log.Printf("Error creating product %s: %v", seed.ProductName, err)
					return err
				}
				log.Printf("Seeded product %s (%s)", seed.ProductName, seed.Barcode)
			} else {
				return err
			}
		} else {
			log.Printf("Product %s already exists, skipping", seed.ProductName)
		}
	}

	log.Println("Barcode seeding completed successfully")
	return nil
}

func (s *BarcodeSeeder) loadProducts(filePath string) ([]productSeed, error) {
	if filePath == "" {
		return stapleProducts(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var products []productSeed
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *BarcodeSeeder) buildProduct(seed productSeed) (*model.BarcodeProduct, error) {
	var macros json.RawMessage
	if len(seed.Macros) > 0 {
		data, err := json.Marshal(seed.Macros)
		if err != nil {
			return nil, err
		}
		macros = data
	}

	return &model.BarcodeProduct{
		Barcode:            seed.Barcode,
		ProductName:        seed.ProductName,
		CaloriesPerServing: seed.CaloriesPerServing,
		ServingSize:        seed.ServingSize,
		Macros:             macros,
	}, nil
}

// stapleProducts is a starter set of widely scanned products so fresh
// deployments answer common lookups from the cache.
func stapleProducts() []productSeed {
	return []productSeed{
		{
			Barcode:            "3017620422003",
			ProductName:        "Nutella",
			CaloriesPerServing: 80,
			ServingSize:        "15 g",
			Macros:             map[string]float64{"energy_kcal_100g": 539, "fat_100g": 30.9, "carbohydrates_100g": 57.5, "sugars_100g": 56.3, "proteins_100g": 6.3, "salt_100g": 0.107},
		},
		{
			Barcode:            "5449000000996",
			ProductName:        "Coca-Cola",
			CaloriesPerServing: 139,
			ServingSize:        "330 ml",
			Macros:             map[string]float64{"energy_kcal_100g": 42, "carbohydrates_100g": 10.6, "sugars_100g": 10.6},
		},
		{
			Barcode:            "7622210449283",
			ProductName:        "Oreo Original",
			CaloriesPerServing: 53,
			ServingSize:        "1 cookie (11 g)",
			Macros:             map[string]float64{"energy_kcal_100g": 480, "fat_100g": 20, "carbohydrates_100g": 69, "sugars_100g": 38, "proteins_100g": 5},
		},
		{
			Barcode:            "8076809513722",
			ProductName:        "Barilla Spaghetti n.5",
			CaloriesPerServing: 310,
			ServingSize:        "87 g",
			Macros:             map[string]float64{"energy_kcal_100g": 356, "fat_100g": 1.7, "carbohydrates_100g": 71.7, "sugars_100g": 3.3, "proteins_100g": 12.5},
		},
		{
			Barcode:            "3228857000852",
			ProductName:        "Harrys Pain de Mie",
			CaloriesPerServing: 72,
			ServingSize:        "1 slice (26 g)",
			Macros:             map[string]float64{"energy_kcal_100g": 275, "fat_100g": 4.2, "carbohydrates_100g": 49, "sugars_100g": 6.2, "proteins_100g": 8.2, "salt_100g": 1.1},
		},
		{
			Barcode:            "4008400401621",
			ProductName:        "Kinder Bueno",
			CaloriesPerServing: 122,
			ServingSize:        "1 bar (21.5 g)",
			Macros:             map[string]float64{"energy_kcal_100g": 571, "fat_100g": 37.3, "carbohydrates_100g": 49.5, "sugars_100g": 41.2, "proteins_100g": 8.6},
		},
		{
			Barcode:            "0737628064502",
			ProductName:        "Thai Kitchen Coconut Milk",
			CaloriesPerServing: 120,
			ServingSize:        "80 ml",
			Macros:             map[string]float64{"energy_kcal_100g": 150, "fat_100g": 15, "carbohydrates_100g": 2.5, "proteins_100g": 1.3},
		},
		{
			Barcode:            "0012000161155",
			ProductName:        "Pepsi",
			CaloriesPerServing: 150,
			ServingSize:        "355 ml",
			Macros:             map[string]float64{"energy_kcal_100g": 42, "carbohydrates_100g": 11.6, "sugars_100g": 11.6},
		},
		{
			Barcode:            "8000500310427",
			ProductName:        "Kinder Chocolate",
			CaloriesPerServing: 71,
			ServingSize:        "1 bar (12.5 g)",
			Macros:             map[string]float64{"energy_kcal_100g": 566, "fat_100g": 35, "carbohydrates_100g": 53.5, "sugars_100g": 53.3, "proteins_100g": 8.7},
		},
		{
			Barcode:            "5000159484695",
			ProductName:        "Snickers",
			CaloriesPerServing: 245,
			ServingSize:        "1 bar (50 g)",
			Macros:             map[string]float64{"energy_kcal_100g": 491, "fat_100g": 24.1, "carbohydrates_100g": 58.8, "sugars_100g": 48.5, "proteins_100g": 8.6, "salt_100g": 0.63},
		},
	}
}
