package services

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/model"
	"github.com/eatlock-app/vision_api/shared"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// VisionQueueService runs the asynchronous half of the pipeline: jobs
// enqueued over HTTP are popped off a redis list, driven through the
// same storage + inference stack as the synchronous handlers, and left
// behind as durable job/result rows the client polls for.
//
// Everything an attempt needs rides in the message, so a retry can land
// on any instance.
type VisionQueueService struct {
	appContext.DefaultService

	queueKey   string
	delayedKey string

	workers     int
	maxAttempts int
	popTimeout  time.Duration
	maxBackoff  time.Duration

	redisSvc      *RedisService
	postgresSvc   *PostgresService
	storageSvc    *StorageService
	visionSvc     *VisionService
	monitoringSvc *MonitoringService

	stopCh chan struct{}
	wg     sync.WaitGroup
}

const VISION_QUEUE_SVC = "vision_queue_svc"

func (svc VisionQueueService) Id() string {
	return VISION_QUEUE_SVC
}

func (svc *VisionQueueService) Configure(ctx *appContext.Context) error {
	svc.queueKey = os.Getenv("VISION_QUEUE_KEY")
	if svc.queueKey == "" {
		svc.queueKey = "vision:jobs"
	}
	svc.delayedKey = svc.queueKey + ":delayed"

	svc.workers = 2
	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			svc.workers = n
		}
	}

	svc.maxAttempts = 5
	svc.popTimeout = 5 * time.Second
	svc.maxBackoff = 30 * time.Second
	svc.stopCh = make(chan struct{})

	return svc.DefaultService.Configure(ctx)
}

func (svc *VisionQueueService) Start() error {
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.postgresSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.storageSvc = svc.Service(STORAGE_SVC).(*StorageService)
	svc.visionSvc = svc.Service(VISION_SVC).(*VisionService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	for i := 0; i < svc.workers; i++ {
		svc.wg.Add(1)
		go svc.worker(i)
	}

	svc.wg.Add(1)
	go svc.moveDelayedJobs()

	log.WithFields(log.Fields{
		"queue":   svc.queueKey,
		"workers": svc.workers,
	}).Info("Vision queue consumer started")
	return nil
}

func (svc *VisionQueueService) Shutdown() {
	close(svc.stopCh)
	svc.wg.Wait()
}

// ==================== ENQUEUE / STATUS ====================

// EnqueueVisionJob persists a job row and pushes its message onto the
// queue. Stage/key-role mismatches are rejected here before anything
// durable is written.
func (svc *VisionQueueService) EnqueueVisionJob(ctx context.Context, userID string, req *dto.EnqueueVisionJobRequest) (*model.VisionJob, error) {
	if _, err := stageKeys(req.Stage, req.R2Keys); err != nil {
		return nil, shared.NewBadRequestError(err, err.Error())
	}

	rawKeys, err := shared.JSONMarshal(req.R2Keys)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to enqueue job")
	}

	job, err := svc.postgresSvc.CreateVisionJob(&model.VisionJob{
		UserID: userID,
		Stage:  req.Stage,
		R2Keys: rawKeys,
		Status: shared.JobStatusQueued,
	})
	if err != nil {
		return nil, err
	}

	msg := &dto.VisionJobMessage{
		JobID:  job.ID,
		UserID: userID,
		Stage:  req.Stage,
		R2Keys: req.R2Keys,
	}
	payload, err := shared.JSONMarshal(msg)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to enqueue job")
	}

	if err := svc.redisSvc.LPush(ctx, svc.queueKey, payload); err != nil {
		if markErr := svc.postgresSvc.MarkVisionJobFailed(job.ID, "enqueue failed: "+err.Error()); markErr != nil {
			log.WithError(markErr).WithField("job_id", job.ID).Error("Failed to mark unenqueued job failed")
		}
		return nil, shared.NewInternalError(err, "Failed to enqueue job")
	}

	return job, nil
}

// GetVisionJobStatus returns the polling view of a job. Jobs belonging
// to other users read as missing.
func (svc *VisionQueueService) GetVisionJobStatus(jobID, userID string) (*dto.VisionJobStatusResponse, error) {
	job, err := svc.postgresSvc.GetVisionJob(jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, shared.NewNotFoundError(fmt.Errorf("job %s not owned by caller", jobID), "Job not found")
	}

	resp := &dto.VisionJobStatusResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Stage:     job.Stage,
		Attempts:  job.Attempts,
		Error:     job.LastError,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}

	if job.Status == shared.JobStatusDone {
		result, err := svc.postgresSvc.GetVisionResultByJob(job.ID)
		if err != nil {
			log.WithError(err).WithField("job_id", job.ID).Warn("Done job has no readable result")
		} else {
			resp.Result = result.Payload
		}
	}

	return resp, nil
}

// ==================== WORKER LOOP ====================

func (svc *VisionQueueService) worker(id int) {
	defer svc.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-svc.stopCh:
			return
		default:
		}

		payload, err := svc.redisSvc.BRPop(ctx, svc.popTimeout, svc.queueKey)
		if err != nil {
			log.WithError(err).WithField("worker", id).Error("Queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if payload == "" {
			continue
		}

		var msg dto.VisionJobMessage
		if err := shared.JSONUnmarshal([]byte(payload), &msg); err != nil {
			log.WithError(err).WithField("worker", id).Error("Dropping undecodable queue message")
			continue
		}

		svc.processMessage(ctx, &msg)
	}
}

// moveDelayedJobs shuttles retry messages whose backoff has elapsed
// from the delayed set back onto the main queue.
func (svc *VisionQueueService) moveDelayedJobs() {
	defer svc.wg.Done()

	ctx := context.Background()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-svc.stopCh:
			return
		case <-ticker.C:
		}

		due, err := svc.redisSvc.ZRangeByScore(ctx, svc.delayedKey,
			"-inf", strconv.FormatInt(time.Now().Unix(), 10), 10)
		if err != nil {
			log.WithError(err).Error("Failed to read delayed queue")
			continue
		}

		for _, member := range due {
			if err := svc.redisSvc.LPush(ctx, svc.queueKey, member); err != nil {
				log.WithError(err).Error("Failed to requeue delayed job")
				continue
			}
			if err := svc.redisSvc.ZRem(ctx, svc.delayedKey, member); err != nil {
				log.WithError(err).Error("Failed to remove delayed job member")
			}
		}
	}
}

// ==================== PROCESSING ====================

// processMessage drives one delivery of a job through validation,
// image download, inference and persistence. Dropping out of this
// function without requeueing acknowledges the message.
func (svc *VisionQueueService) processMessage(ctx context.Context, msg *dto.VisionJobMessage) {
	if msg.JobID == "" {
		log.Warn("Dropping queue message without job id")
		return
	}

	attemptNum := msg.Attempt + 1
	logEntry := log.WithFields(log.Fields{
		"job_id":  msg.JobID,
		"stage":   msg.Stage,
		"attempt": attemptNum,
	})

	job, err := svc.postgresSvc.GetVisionJob(msg.JobID)
	if err != nil {
		if appErr, ok := shared.GetAppError(err); ok && appErr.StatusCode == http.StatusNotFound {
			logEntry.Warn("Dropping message for unknown job")
			return
		}
		svc.handleFailure(ctx, msg, attemptNum, err, logEntry)
		return
	}
	if job.Status == shared.JobStatusDone || job.Status == shared.JobStatusFailed {
		logEntry.WithField("status", job.Status).Info("Skipping terminal job redelivery")
		return
	}

	keys, err := stageKeys(msg.Stage, msg.R2Keys)
	if err != nil {
		svc.failJob(ctx, msg, attemptNum, err, logEntry)
		return
	}

	if err := svc.postgresSvc.MarkVisionJobProcessing(msg.JobID, attemptNum); err != nil {
		svc.handleFailure(ctx, msg, attemptNum, err, logEntry)
		return
	}

	result, err := svc.runStage(ctx, msg.Stage, keys)
	if err != nil {
		svc.handleFailure(ctx, msg, attemptNum, err, logEntry)
		return
	}

	if _, err := svc.postgresSvc.SaveVisionResult(result.toModel(msg)); err != nil {
		svc.handleFailure(ctx, msg, attemptNum, err, logEntry)
		return
	}
	if err := svc.postgresSvc.MarkVisionJobDone(msg.JobID); err != nil {
		svc.handleFailure(ctx, msg, attemptNum, err, logEntry)
		return
	}

	svc.cleanupJobImages(ctx, msg.JobID, msg.R2Keys)
	svc.recordJob(msg.Stage, "done", attemptNum)
	logEntry.WithField("verdict", result.verdict).Info("Vision job completed")
}

// stageResult carries whichever structured output the stage produced
// plus the columns lifted out of it for the result row.
type stageResult struct {
	verdict       string
	confidence    float64
	finishedScore *float64
	payload       []byte
}

func (r *stageResult) toModel(msg *dto.VisionJobMessage) *model.VisionResult {
	return &model.VisionResult{
		JobID:         msg.JobID,
		UserID:        msg.UserID,
		Stage:         msg.Stage,
		Verdict:       r.verdict,
		Confidence:    r.confidence,
		FinishedScore: r.finishedScore,
		Payload:       r.payload,
	}
}

func (svc *VisionQueueService) runStage(ctx context.Context, stage string, keys []string) (*stageResult, error) {
	switch stage {
	case shared.StageStartScan:
		img, err := svc.storageSvc.FetchImage(ctx, keys[0])
		if err != nil {
			return nil, err
		}
		check, err := svc.visionSvc.VerifyFoodChat(ctx, img)
		if err != nil {
			return nil, err
		}
		payload, err := shared.JSONMarshal(check)
		if err != nil {
			return nil, shared.NewInternalError(err, "Failed to encode result")
		}
		return &stageResult{
			verdict:    check.Verdict,
			confidence: check.Confidence,
			payload:    payload,
		}, nil

	case shared.StageEndScan:
		before, after, err := svc.storageSvc.FetchImagePair(ctx, keys[0], keys[1])
		if err != nil {
			return nil, err
		}
		comparison, err := svc.visionSvc.CompareMealChat(ctx, before, after)
		if err != nil {
			return nil, err
		}
		payload, err := shared.JSONMarshal(comparison)
		if err != nil {
			return nil, shared.NewInternalError(err, "Failed to encode result")
		}
		score := comparison.FinishedScore
		return &stageResult{
			verdict:       comparison.Verdict,
			confidence:    comparison.Confidence,
			finishedScore: &score,
			payload:       payload,
		}, nil

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// ==================== FAILURE HANDLING ====================

// handleFailure requeues transient failures with backoff until the
// attempt ceiling, everything else lands in failJob.
func (svc *VisionQueueService) handleFailure(ctx context.Context, msg *dto.VisionJobMessage, attemptNum int, procErr error, logEntry *log.Entry) {
	if isTransientError(procErr) && attemptNum <= svc.maxAttempts {
		backoff := svc.retryBackoff(attemptNum)
		logEntry.WithError(procErr).WithField("backoff", backoff).Warn("Transient failure, requeueing job")

		if err := svc.postgresSvc.MarkVisionJobQueued(msg.JobID, attemptNum, shared.Excerpt([]byte(procErr.Error()), 500)); err != nil {
			logEntry.WithError(err).Error("Failed to record retry state")
		}
		svc.requeueDelayed(ctx, msg, attemptNum, backoff, logEntry)
		svc.recordJob(msg.Stage, "retried", 0)
		return
	}

	svc.failJob(ctx, msg, attemptNum, procErr, logEntry)
}

func (svc *VisionQueueService) failJob(ctx context.Context, msg *dto.VisionJobMessage, attemptNum int, procErr error, logEntry *log.Entry) {
	logEntry.WithError(procErr).Error("Vision job failed permanently")

	if err := svc.postgresSvc.MarkVisionJobFailed(msg.JobID, shared.Excerpt([]byte(procErr.Error()), 500)); err != nil {
		logEntry.WithError(err).Error("Failed to mark job failed")
	}
	svc.cleanupJobImages(ctx, msg.JobID, msg.R2Keys)
	svc.recordJob(msg.Stage, "failed", attemptNum)
}

func (svc *VisionQueueService) requeueDelayed(ctx context.Context, msg *dto.VisionJobMessage, attemptNum int, backoff time.Duration, logEntry *log.Entry) {
	retryMsg := *msg
	retryMsg.Attempt = attemptNum

	payload, err := shared.JSONMarshal(&retryMsg)
	if err != nil {
		logEntry.WithError(err).Error("Failed to encode retry message")
		return
	}

	readyAt := time.Now().Add(backoff)
	if err := svc.redisSvc.ZAdd(ctx, svc.delayedKey, float64(readyAt.Unix()), string(payload)); err != nil {
		logEntry.WithError(err).Error("Failed to schedule retry")
	}
}

func (svc *VisionQueueService) retryBackoff(attemptNum int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attemptNum))) * time.Second
	if backoff > svc.maxBackoff {
		backoff = svc.maxBackoff
	}
	return backoff
}

// cleanupJobImages deletes a job's source objects at most once across
// all attempts and instances; the claim row decides the winner. A
// retried job must still be able to read its images, so this only runs
// from terminal states.
func (svc *VisionQueueService) cleanupJobImages(ctx context.Context, jobID string, r2Keys map[string]string) {
	claimed, err := svc.postgresSvc.ClaimVisionJobCleanup(jobID)
	if err != nil {
		log.WithError(err).WithField("job_id", jobID).Warn("Failed to claim image cleanup")
		return
	}
	if !claimed {
		return
	}

	keys := make([]string, 0, len(r2Keys))
	for _, key := range r2Keys {
		keys = append(keys, key)
	}
	svc.storageSvc.DeleteImages(ctx, keys...)
}

func (svc *VisionQueueService) recordJob(stage, outcome string, attempts int) {
	if svc.monitoringSvc == nil {
		return
	}
	svc.monitoringSvc.RecordQueueJob(stage, outcome)
	if attempts > 0 {
		svc.monitoringSvc.RecordQueueJobAttempts(attempts)
	}
}

// ==================== CLASSIFICATION ====================

// stageKeys resolves the role-to-key mapping a stage needs. Start scans
// read the "photo" role, or the sole key when only one was sent; end
// scans need both "before" and "after".
func stageKeys(stage string, r2Keys map[string]string) ([]string, error) {
	if len(r2Keys) == 0 {
		return nil, fmt.Errorf("no object keys in message")
	}

	switch stage {
	case shared.StageStartScan:
		key := r2Keys["photo"]
		if key == "" && len(r2Keys) == 1 {
			for _, v := range r2Keys {
				key = v
			}
		}
		if key == "" {
			return nil, fmt.Errorf("stage %s requires a photo key", stage)
		}
		return []string{key}, nil

	case shared.StageEndScan:
		before := r2Keys["before"]
		after := r2Keys["after"]
		if before == "" || after == "" {
			return nil, fmt.Errorf("stage %s requires before and after keys", stage)
		}
		return []string{before, after}, nil

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

var transientSignatures = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"unexpected eof",
	"eof",
	"429",
	"500",
	"502",
	"503",
	"504",
	"too many requests",
	"service unavailable",
}

// isTransientError decides retry vs terminal failure. Typed errors
// carry their retryability from the point of construction; a missing
// object is retried because a fresh upload can lag behind its enqueue.
// The signature scan only ever sees untyped errors.
func isTransientError(err error) bool {
	if shared.IsRetryable(err) {
		return true
	}

	if appErr, ok := shared.GetAppError(err); ok {
		return appErr.StatusCode == http.StatusNotFound
	}

	msg := strings.ToLower(err.Error())
	for _, signature := range transientSignatures {
		if strings.Contains(msg, signature) {
			return true
		}
	}
	return false
}
