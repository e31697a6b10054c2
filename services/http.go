package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/gofiber/swagger"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	_ "github.com/eatlock-app/vision_api/docs"
	"github.com/eatlock-app/vision_api/services/handlers"
	"github.com/eatlock-app/vision_api/shared"
)

type HttpService struct {
	appContext.DefaultService

	authSvc       *AuthService
	rateLimitSvc  *RateLimitService
	storageSvc    *StorageService
	visionSvc     *VisionService
	queueSvc      *VisionQueueService
	barcodeSvc    *BarcodeService
	redisSvc      *RedisService
	monitoringSvc *MonitoringService

	authHandler      *handlers.AuthHandler
	visionHandler    *handlers.VisionHandler
	nutritionHandler *handlers.NutritionHandler
	barcodeHandler   *handlers.BarcodeHandler

	port int
	app  *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *appContext.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.storageSvc = svc.Service(STORAGE_SVC).(*StorageService)
	svc.visionSvc = svc.Service(VISION_SVC).(*VisionService)
	svc.queueSvc = svc.Service(VISION_QUEUE_SVC).(*VisionQueueService)
	svc.barcodeSvc = svc.Service(BARCODE_SVC).(*BarcodeService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	svc.authHandler = handlers.NewAuthHandler(svc.authSvc)
	svc.visionHandler = handlers.NewVisionHandler(svc.authSvc, svc.rateLimitSvc, svc.storageSvc, svc.visionSvc, svc.queueSvc)
	svc.nutritionHandler = handlers.NewNutritionHandler(svc.authSvc, svc.rateLimitSvc, svc.storageSvc, svc.visionSvc, svc.redisSvc,
		envLimit("DAILY_NUTRITION_LIMIT", 20))
	svc.barcodeHandler = handlers.NewBarcodeHandler(svc.rateLimitSvc, svc.barcodeSvc)

	svc.app = fiber.New(fiber.Config{
		BodyLimit:             1024 * 1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          90 * time.Second,
		DisableStartupMessage: os.Getenv("LOG_LEVEL") != "TRACE",
		ErrorHandler:          svc.handleError,
	})

	svc.app.Use(recover.New())
	svc.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, x-dev-bypass, x-dev-bypass-token",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	svc.app.Use(MonitoringMiddleware(svc.monitoringSvc))
	svc.app.Use(svc.rateLimitSvc.IPRateLimit(120, time.Minute))

	svc.registerRoutes()

	log.WithField("port", svc.port).Info("HTTP server starting")
	return svc.app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.Shutdown()
	}
}

func (svc *HttpService) registerRoutes() {
	svc.app.Get("/ping", svc.ping)
	svc.app.Get("/swagger/*", fiberSwagger.HandlerDefault)
	svc.app.Get("/internal/rate-limits", svc.rateLimitSvc.GetRateLimitStats())

	v1 := svc.app.Group("/v1")
	v1.Post("/auth/anonymous", svc.authHandler.AnonymousSession)

	authed := v1.Group("", svc.authSvc.RequiredAuth())
	authed.Post("/vision/verify-food", svc.visionHandler.VerifyFood)
	authed.Post("/vision/compare-meal", svc.visionHandler.CompareMeal)
	authed.Post("/vision/jobs", svc.visionHandler.EnqueueJob)
	authed.Get("/vision/jobs/:jobId", svc.visionHandler.GetJobStatus)
	authed.Post("/nutrition/estimate", svc.nutritionHandler.Estimate)
	authed.Post("/barcode/lookup", svc.barcodeHandler.Lookup)
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, fiber.StatusOK, fiber.Map{"status": "ok"})
}

// handleError is the terminal error boundary: every handler error is
// rendered as the {error: ...} envelope, never a bare transport error.
func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseError(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	if fiberErr, ok := err.(*fiber.Error); ok {
		return shared.ResponseError(c, fiberErr.Code, fiberErr.Message, nil)
	}

	log.WithError(err).Error("Unhandled request error")
	return shared.ResponseInternalError(c)
}
