package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/shared"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// BarcodeService resolves product barcodes through a cache-then-fallback
// chain: postgres cache, then Open Food Facts. Lookups always answer;
// a total miss returns a placeholder, never an error.
type BarcodeService struct {
	appContext.DefaultService

	apiURL           string
	httpClient       *http.Client
	negativeCacheTTL time.Duration

	postgresSvc   *PostgresService
	redisSvc      *RedisService
	monitoringSvc *MonitoringService
}

const BARCODE_SVC = "barcode_svc"

func (svc BarcodeService) Id() string {
	return BARCODE_SVC
}

func (svc *BarcodeService) Configure(ctx *appContext.Context) error {
	svc.apiURL = strings.TrimRight(os.Getenv("OPENFOODFACTS_URL"), "/")
	if svc.apiURL == "" {
		svc.apiURL = "https://world.openfoodfacts.org"
	}

	svc.httpClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	svc.negativeCacheTTL = time.Hour

	return svc.DefaultService.Configure(ctx)
}

func (svc *BarcodeService) Start() error {
	svc.postgresSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)
	return nil
}

// Lookup resolves a barcode to product info. Source is "cache" for a
// stored hit, "openfoodfacts" for a fresh upstream hit and "not_found"
// when nobody knows the product.
func (svc *BarcodeService) Lookup(ctx context.Context, barcode string) (*dto.ProductInfo, error) {
	cached, err := svc.postgresSvc.GetBarcodeProduct(barcode)
	if err != nil {
		log.WithError(err).WithField("barcode", barcode).Warn("Barcode cache read failed")
	}
	if cached != nil {
		svc.recordLookup(shared.SourceCache)
		return &dto.ProductInfo{
			Barcode:            cached.Barcode,
			ProductName:        cached.ProductName,
			CaloriesPerServing: cached.CaloriesPerServing,
			ServingSize:        cached.ServingSize,
			Macros:             cached.Macros,
			Source:             shared.SourceCache,
		}, nil
	}

	if svc.knownMiss(ctx, barcode) {
		svc.recordLookup(shared.SourceNotFound)
		return notFoundProduct(barcode), nil
	}

	product := svc.fetchFromOpenFoodFacts(ctx, barcode)
	if product == nil {
		svc.rememberMiss(ctx, barcode)
		svc.recordLookup(shared.SourceNotFound)
		return notFoundProduct(barcode), nil
	}

	go svc.cacheProduct(product)

	svc.recordLookup(shared.SourceOpenFoodFacts)
	return &dto.ProductInfo{
		Barcode:            product.Barcode,
		ProductName:        product.ProductName,
		CaloriesPerServing: product.CaloriesPerServing,
		ServingSize:        product.ServingSize,
		Macros:             product.Macros,
		Source:             shared.SourceOpenFoodFacts,
	}, nil
}

// ==================== OPEN FOOD FACTS ====================

type offNutriments struct {
	EnergyKcalServing float64 `json:"energy-kcal_serving"`
	EnergyKcal100g    float64 `json:"energy-kcal_100g"`
	Proteins100g      float64 `json:"proteins_100g"`
	Carbohydrates100g float64 `json:"carbohydrates_100g"`
	Fat100g           float64 `json:"fat_100g"`
	Sugars100g        float64 `json:"sugars_100g"`
	Fiber100g         float64 `json:"fiber_100g"`
	Salt100g          float64 `json:"salt_100g"`
}

type offProduct struct {
	ProductName string        `json:"product_name"`
	ServingSize string        `json:"serving_size"`
	Nutriments  offNutriments `json:"nutriments"`
}

type offResponse struct {
	Status  int         `json:"status"`
	Product *offProduct `json:"product"`
}

// fetchFromOpenFoodFacts returns nil on any failure; the caller turns
// that into the not-found placeholder.
func (svc *BarcodeService) fetchFromOpenFoodFacts(ctx context.Context, barcode string) *model.BarcodeProduct {
	url := fmt.Sprintf("%s/api/v2/product/%s.json", svc.apiURL, barcode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).WithField("barcode", barcode).Error("Failed to build product lookup request")
		return nil
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("barcode", barcode).Warn("Product lookup failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"barcode": barcode,
			"status":  resp.StatusCode,
		}).Info("Product not known upstream")
		return nil
	}

	var result offResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.WithError(err).WithField("barcode", barcode).Warn("Failed to decode product response")
		return nil
	}
	if result.Status != 1 || result.Product == nil {
		return nil
	}

	calories := result.Product.Nutriments.EnergyKcalServing
	if calories <= 0 {
		calories = result.Product.Nutriments.EnergyKcal100g
	}

	name := result.Product.ProductName
	if name == "" {
		name = "Unknown product"
	}

	macros, err := shared.JSONMarshal(map[string]float64{
		"energy_kcal_100g":   result.Product.Nutriments.EnergyKcal100g,
		"proteins_100g":      result.Product.Nutriments.Proteins100g,
		"carbohydrates_100g": result.Product.Nutriments.Carbohydrates100g,
		"fat_100g":           result.Product.Nutriments.Fat100g,
		"sugars_100g":        result.Product.Nutriments.Sugars100g,
		"fiber_100g":         result.Product.Nutriments.Fiber100g,
		"salt_100g":          result.Product.Nutriments.Salt100g,
	})
	if err != nil {
		macros = nil
	}

	return &model.BarcodeProduct{
		Barcode:            barcode,
		ProductName:        name,
		CaloriesPerServing: calories,
		ServingSize:        result.Product.ServingSize,
		Macros:             macros,
	}
}

// ==================== CACHING ====================

func (svc *BarcodeService) cacheProduct(product *model.BarcodeProduct) {
	if err := svc.postgresSvc.UpsertBarcodeProduct(product); err != nil {
		log.WithError(err).WithField("barcode", product.Barcode).Warn("Failed to cache product")
	}
}

func missKey(barcode string) string {
	return fmt.Sprintf("barcode:miss:%s", barcode)
}

func (svc *BarcodeService) knownMiss(ctx context.Context, barcode string) bool {
	if svc.redisSvc == nil {
		return false
	}
	exists, err := svc.redisSvc.Exists(ctx, missKey(barcode))
	if err != nil {
		return false
	}
	return exists
}

// rememberMiss shields Open Food Facts from repeat lookups of unknown
// barcodes for a while.
func (svc *BarcodeService) rememberMiss(ctx context.Context, barcode string) {
	if svc.redisSvc == nil {
		return
	}
	if err := svc.redisSvc.Set(ctx, missKey(barcode), "1", svc.negativeCacheTTL); err != nil {
		log.WithError(err).WithField("barcode", barcode).Warn("Failed to record barcode miss")
	}
}

func notFoundProduct(barcode string) *dto.ProductInfo {
	return &dto.ProductInfo{
		Barcode:            barcode,
		ProductName:        "Unknown product",
		CaloriesPerServing: 0,
		Source:             shared.SourceNotFound,
	}
}

func (svc *BarcodeService) recordLookup(source string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordBarcodeLookup(source)
	}
}
