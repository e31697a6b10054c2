package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// StorageService fetches meal photos out of the object store and hands
// them to the vision layer as base64 data URLs. Uploads happen on the
// client side against presigned URLs, so this service only ever reads
// and deletes.
type StorageService struct {
	appContext.DefaultService
	client     *minio.Client
	bucketName string
	endpoint   string
	accessKey  string
	secretKey  string
	useSSL     bool

	maxImageBytes int64
	contentType   string

	monitoringSvc *MonitoringService
}

const STORAGE_SVC = "storage_svc"

const defaultMaxImageBytes = 5 * 1024 * 1024

func (svc StorageService) Id() string {
	return STORAGE_SVC
}

func (svc *StorageService) Configure(ctx *appContext.Context) error {
	svc.endpoint = os.Getenv("MINIO_ENDPOINT")
	if svc.endpoint == "" {
		svc.endpoint = "localhost:9000"
	}

	svc.accessKey = os.Getenv("MINIO_ACCESS_KEY")
	if svc.accessKey == "" {
		svc.accessKey = "admin"
	}

	svc.secretKey = os.Getenv("MINIO_SECRET_KEY")
	if svc.secretKey == "" {
		svc.secretKey = "password123"
	}

	svc.useSSL = os.Getenv("MINIO_USE_SSL") == "true"

	svc.bucketName = os.Getenv("MINIO_BUCKET_NAME")
	if svc.bucketName == "" {
		svc.bucketName = "eatlock-meals"
	}

	svc.maxImageBytes = defaultMaxImageBytes
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			svc.maxImageBytes = n
		}
	}

	svc.contentType = os.Getenv("IMAGE_CONTENT_TYPE")
	if svc.contentType == "" {
		svc.contentType = "image/jpeg"
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *StorageService) Start() error {
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	client, err := minio.New(svc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.accessKey, svc.secretKey, ""),
		Secure: svc.useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %v", err)
	}

	svc.client = client

	if err := svc.ensureBucket(); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	log.Printf("Storage service started successfully with endpoint: %s", svc.endpoint)
	return nil
}

func (svc *StorageService) ensureBucket() error {
	ctx := context.Background()

	exists, err := svc.client.BucketExists(ctx, svc.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = svc.client.MakeBucket(ctx, svc.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
		log.Printf("Created MinIO bucket: %s", svc.bucketName)
	}

	return nil
}

// FetchImage validates the object against the format and size limits
// before pulling a single byte of body, then encodes it for inference.
func (svc *StorageService) FetchImage(ctx context.Context, key string) (*dto.ImageData, error) {
	objInfo, err := svc.client.StatObject(ctx, svc.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			svc.recordFetch("not_found")
			return nil, shared.NewNotFoundError(err, "Image not found")
		}
		svc.recordFetch("error")
		return nil, shared.NewTransientUpstreamError(err, "Object store unavailable")
	}

	if objInfo.ContentType != svc.contentType {
		svc.recordFetch("bad_type")
		return nil, shared.NewUnsupportedMediaError(
			fmt.Errorf("got %s, want %s", objInfo.ContentType, svc.contentType),
			"Unsupported image format")
	}

	if objInfo.Size > svc.maxImageBytes {
		svc.recordFetch("too_large")
		return nil, shared.NewPayloadTooLargeError(
			fmt.Errorf("object is %d bytes, limit %d", objInfo.Size, svc.maxImageBytes),
			"Image too large")
	}

	obj, err := svc.client.GetObject(ctx, svc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		svc.recordFetch("error")
		return nil, shared.NewTransientUpstreamError(err, "Failed to fetch image")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			svc.recordFetch("not_found")
			return nil, shared.NewNotFoundError(err, "Image not found")
		}
		svc.recordFetch("error")
		return nil, shared.NewTransientUpstreamError(err, "Failed to read image")
	}

	svc.recordFetch("ok")

	return &dto.ImageData{
		Key:         key,
		ContentType: objInfo.ContentType,
		Size:        objInfo.Size,
		DataURL:     fmt.Sprintf("data:%s;base64,%s", objInfo.ContentType, base64.StdEncoding.EncodeToString(data)),
	}, nil
}

// FetchImagePair downloads two objects concurrently and joins before
// returning. The first key's error wins when both fail.
func (svc *StorageService) FetchImagePair(ctx context.Context, keyA, keyB string) (*dto.ImageData, *dto.ImageData, error) {
	var (
		wg   sync.WaitGroup
		imgB *dto.ImageData
		errB error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		imgB, errB = svc.FetchImage(ctx, keyB)
	}()

	imgA, errA := svc.FetchImage(ctx, keyA)
	wg.Wait()

	if errA != nil {
		return nil, nil, errA
	}
	if errB != nil {
		return nil, nil, errB
	}
	return imgA, imgB, nil
}

// DeleteImage removes an object, tolerating every failure. Deleting an
// already-deleted key succeeds, so callers can retry freely.
func (svc *StorageService) DeleteImage(ctx context.Context, key string) {
	err := svc.client.RemoveObject(ctx, svc.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil {
		svc.recordDelete("error")
		log.WithError(err).WithField("key", key).Warn("Failed to delete image")
		return
	}
	svc.recordDelete("ok")
}

// DeleteImages fans the deletes out concurrently; each key succeeds or
// fails on its own.
func (svc *StorageService) DeleteImages(ctx context.Context, keys ...string) {
	var wg sync.WaitGroup
	for _, key := range keys {
		if key == "" {
			continue
		}
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			svc.DeleteImage(ctx, k)
		}(key)
	}
	wg.Wait()
}

func (svc *StorageService) GetBucketName() string {
	return svc.bucketName
}

func (svc *StorageService) MaxImageBytes() int64 {
	return svc.maxImageBytes
}

func (svc *StorageService) recordFetch(outcome string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordStorageOperation("fetch", outcome)
	}
}

func (svc *StorageService) recordDelete(outcome string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordStorageOperation("delete", outcome)
	}
}
