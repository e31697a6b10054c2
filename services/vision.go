package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eatlock-app/vision_api/dto"
	"github.com/eatlock-app/vision_api/shared"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
)

// VisionService builds and executes inference calls against an
// OpenAI-compatible chat completions endpoint. The synchronous path
// pins the model to a strict JSON schema; the queue path speaks plain
// chat and normalizes whatever comes back.
type VisionService struct {
	appContext.DefaultService

	baseURL string
	apiKey  string
	model   string

	escalationThreshold float64

	httpClient *http.Client

	monitoringSvc *MonitoringService
}

const VISION_SVC = "vision_svc"

func (svc VisionService) Id() string {
	return VISION_SVC
}

func (svc *VisionService) Configure(ctx *appContext.Context) error {
	svc.baseURL = strings.TrimRight(os.Getenv("OPENAI_BASE_URL"), "/")
	if svc.baseURL == "" {
		svc.baseURL = "https://api.openai.com/v1"
	}

	svc.apiKey = os.Getenv("OPENAI_API_KEY")

	svc.model = os.Getenv("VISION_MODEL")
	if svc.model == "" {
		svc.model = "gpt-4o-mini"
	}

	svc.escalationThreshold = 0.55
	if v := os.Getenv("ESCALATION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			svc.escalationThreshold = f
		}
	}

	timeout := 60 * time.Second
	if v := os.Getenv("VISION_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	svc.httpClient = &http.Client{Timeout: timeout}

	return svc.DefaultService.Configure(ctx)
}

func (svc *VisionService) Start() error {
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)
	return nil
}

// ==================== WIRE TYPES ====================

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imagePayload `json:"image_url,omitempty"`
}

type imagePayload struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ==================== PROMPTS AND SCHEMAS ====================

const foodCheckInstruction = `You are the meal gate for a food tracking app. Look at the photo and decide whether it shows real, edible food the user is about to eat.
Verdicts: FOOD_OK for an actual meal or snack in front of the camera. NOT_FOOD for screens, photos of photos, packaging, pets, empty plates or anything inedible. UNVERIFIABLE when the image is too dark, blurry or ambiguous to tell.
Keep the reason to one sentence.`

const mealCompareInstruction = `You compare a BEFORE photo and an AFTER photo of the same meal and judge how much was eaten.
Verdicts: FINISHED when the plate is essentially cleared, NOT_FINISHED when substantial food remains, UNVERIFIABLE when the photos cannot be compared (different dish, unusable image).
finished_score is the fraction of the meal that was eaten, 0 to 1. The roast is one playful sentence nudging the user, sharper the more food they left.`

const nutritionInstruction = `You estimate the nutrition of the meal in the photo.
List each recognizable item with an approximate quantity and its kcal, then give the total kcal for the whole meal and your confidence. Use notes for caveats such as hidden ingredients or unclear portions.`

func foodCheckSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"verdict", "confidence", "reason", "signals"},
		"properties": map[string]interface{}{
			"verdict": map[string]interface{}{
				"type": "string",
				"enum": []string{shared.VerdictFoodOK, shared.VerdictNotFood, shared.VerdictUnverifiable},
			},
			"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"reason":     map[string]interface{}{"type": "string"},
			"signals": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"is_meal_photo", "single_dish", "lighting_ok"},
				"properties": map[string]interface{}{
					"is_meal_photo": map[string]interface{}{"type": "boolean"},
					"single_dish":   map[string]interface{}{"type": "boolean"},
					"lighting_ok":   map[string]interface{}{"type": "boolean"},
				},
			},
		},
	}
}

func mealCompareSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"verdict", "finished_score", "confidence", "roast", "signals"},
		"properties": map[string]interface{}{
			"verdict": map[string]interface{}{
				"type": "string",
				"enum": []string{shared.VerdictFinished, shared.VerdictNotFinished, shared.VerdictUnverifiable},
			},
			"finished_score": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"confidence":     map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"roast":          map[string]interface{}{"type": "string"},
			"signals": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"same_dish", "plate_visible", "leftovers_detected"},
				"properties": map[string]interface{}{
					"same_dish":          map[string]interface{}{"type": "boolean"},
					"plate_visible":      map[string]interface{}{"type": "boolean"},
					"leftovers_detected": map[string]interface{}{"type": "boolean"},
				},
			},
		},
	}
}

func nutritionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"items", "total_kcal", "confidence", "notes"},
		"properties": map[string]interface{}{
			"items": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "quantity", "kcal"},
					"properties": map[string]interface{}{
						"name":     map[string]interface{}{"type": "string"},
						"quantity": map[string]interface{}{"type": "string"},
						"kcal":     map[string]interface{}{"type": "number", "minimum": 0},
					},
				},
			},
			"total_kcal": map[string]interface{}{"type": "number", "minimum": 0},
			"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"notes":      map[string]interface{}{"type": "string"},
		},
	}
}

// ==================== SYNC OPERATIONS ====================

// VerifyFood decides whether a single photo shows real food.
func (svc *VisionService) VerifyFood(ctx context.Context, img *dto.ImageData) (*dto.FoodCheckResult, error) {
	parts := []contentPart{
		imagePart(img, shared.DetailLow),
	}

	content, err := svc.complete(ctx, shared.OpVerifyFood, foodCheckInstruction, parts,
		&responseFormat{Type: "json_schema", JSONSchema: &jsonSchemaFormat{Name: "food_check", Strict: true, Schema: foodCheckSchema()}},
		500, shared.DetailLow)
	if err != nil {
		return nil, err
	}

	result, err := parseFoodCheck(content)
	if err != nil {
		return nil, err
	}

	svc.recordVerdict(shared.OpVerifyFood, result.Verdict)
	return result, nil
}

// CompareMeal judges how much of the meal was eaten between the before
// and after photos. The first pass runs at low detail; an uncertain
// UNVERIFIABLE escalates once to high detail and that second answer is
// final.
func (svc *VisionService) CompareMeal(ctx context.Context, before, after *dto.ImageData) (*dto.MealComparisonResult, error) {
	result, err := svc.compareAt(ctx, before, after, shared.DetailLow)
	if err != nil {
		return nil, err
	}

	if result.Verdict == shared.VerdictUnverifiable && result.Confidence < svc.escalationThreshold {
		svc.recordEscalation(shared.OpCompareMeal)
		log.WithFields(log.Fields{
			"confidence": result.Confidence,
			"threshold":  svc.escalationThreshold,
		}).Info("Escalating comparison to high detail")

		result, err = svc.compareAt(ctx, before, after, shared.DetailHigh)
		if err != nil {
			return nil, err
		}
	}

	svc.recordVerdict(shared.OpCompareMeal, result.Verdict)
	return result, nil
}

func (svc *VisionService) compareAt(ctx context.Context, before, after *dto.ImageData, detail string) (*dto.MealComparisonResult, error) {
	parts := []contentPart{
		{Type: "text", Text: "BEFORE photo:"},
		imagePart(before, detail),
		{Type: "text", Text: "AFTER photo:"},
		imagePart(after, detail),
	}

	content, err := svc.complete(ctx, shared.OpCompareMeal, mealCompareInstruction, parts,
		&responseFormat{Type: "json_schema", JSONSchema: &jsonSchemaFormat{Name: "meal_compare", Strict: true, Schema: mealCompareSchema()}},
		500, detail)
	if err != nil {
		return nil, err
	}

	return parseMealComparison(content)
}

// EstimateNutrition itemizes the meal and totals its calories.
func (svc *VisionService) EstimateNutrition(ctx context.Context, img *dto.ImageData) (*dto.NutritionEstimate, error) {
	parts := []contentPart{
		imagePart(img, shared.DetailLow),
	}

	content, err := svc.complete(ctx, shared.OpEstimateNutrition, nutritionInstruction, parts,
		&responseFormat{Type: "json_schema", JSONSchema: &jsonSchemaFormat{Name: "nutrition_estimate", Strict: true, Schema: nutritionSchema()}},
		700, shared.DetailLow)
	if err != nil {
		return nil, err
	}

	var result dto.NutritionEstimate
	if err := decodeResult(content, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ==================== CHAT OPERATIONS ====================

// VerifyFoodChat is the queue-side variant: no schema pinning, just an
// instruction to answer in bare JSON, normalized before parsing.
func (svc *VisionService) VerifyFoodChat(ctx context.Context, img *dto.ImageData) (*dto.FoodCheckResult, error) {
	instruction := foodCheckInstruction + "\n" + chatJSONHint(`{"verdict":"FOOD_OK|NOT_FOOD|UNVERIFIABLE","confidence":0.0,"reason":"...","signals":{"is_meal_photo":true,"single_dish":true,"lighting_ok":true}}`)

	parts := []contentPart{
		imagePart(img, shared.DetailLow),
	}

	content, err := svc.complete(ctx, shared.OpVerifyFood, instruction, parts, nil, 500, shared.DetailLow)
	if err != nil {
		return nil, err
	}

	result, err := parseFoodCheck(content)
	if err != nil {
		return nil, err
	}

	svc.recordVerdict(shared.OpVerifyFood, result.Verdict)
	return result, nil
}

// CompareMealChat mirrors CompareMeal for the queue path, escalation
// included.
func (svc *VisionService) CompareMealChat(ctx context.Context, before, after *dto.ImageData) (*dto.MealComparisonResult, error) {
	result, err := svc.compareChatAt(ctx, before, after, shared.DetailLow)
	if err != nil {
		return nil, err
	}

	if result.Verdict == shared.VerdictUnverifiable && result.Confidence < svc.escalationThreshold {
		svc.recordEscalation(shared.OpCompareMeal)

		result, err = svc.compareChatAt(ctx, before, after, shared.DetailHigh)
		if err != nil {
			return nil, err
		}
	}

	svc.recordVerdict(shared.OpCompareMeal, result.Verdict)
	return result, nil
}

func (svc *VisionService) compareChatAt(ctx context.Context, before, after *dto.ImageData, detail string) (*dto.MealComparisonResult, error) {
	instruction := mealCompareInstruction + "\n" + chatJSONHint(`{"verdict":"FINISHED|NOT_FINISHED|UNVERIFIABLE","finished_score":0.0,"confidence":0.0,"roast":"...","signals":{"same_dish":true,"plate_visible":true,"leftovers_detected":false}}`)

	parts := []contentPart{
		{Type: "text", Text: "BEFORE photo:"},
		imagePart(before, detail),
		{Type: "text", Text: "AFTER photo:"},
		imagePart(after, detail),
	}

	content, err := svc.complete(ctx, shared.OpCompareMeal, instruction, parts, nil, 500, detail)
	if err != nil {
		return nil, err
	}

	return parseMealComparison(content)
}

func chatJSONHint(shape string) string {
	return "Respond with ONLY a JSON object in exactly this shape, no prose and no markdown fences:\n" + shape
}

// ==================== TRANSPORT ====================

func (svc *VisionService) complete(ctx context.Context, op, instruction string, parts []contentPart, format *responseFormat, maxTokens int, detail string) (string, error) {
	reqBody := chatRequest{
		Model: svc.model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: parts},
		},
		MaxTokens:      maxTokens,
		Temperature:    0,
		ResponseFormat: format,
	}

	payload, err := shared.JSONMarshal(reqBody)
	if err != nil {
		return "", shared.NewInternalError(err, "Failed to build vision request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", shared.NewInternalError(err, "Failed to build vision request")
	}
	req.Header.Set("Content-Type", "application/json")
	if svc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+svc.apiKey)
	}

	start := time.Now()
	resp, err := svc.httpClient.Do(req)
	if err != nil {
		svc.recordInference(op, detail, "transport_error", time.Since(start))
		return "", shared.NewTransientUpstreamError(err, "Vision provider unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		svc.recordInference(op, detail, "transport_error", duration)
		return "", shared.NewTransientUpstreamError(err, "Vision provider unreachable")
	}

	svc.recordInference(op, detail, strconv.Itoa(resp.StatusCode), duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstreamErr := fmt.Errorf("inference returned status %d, body: %s", resp.StatusCode, shared.Excerpt(body, 300))
		if resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode >= 500 {
			return "", shared.NewTransientUpstreamError(upstreamErr, "Vision provider unavailable")
		}
		return "", shared.NewUpstreamError(upstreamErr, "Vision request rejected")
	}

	var parsed chatResponse
	if err := shared.JSONUnmarshal(body, &parsed); err != nil {
		return "", shared.NewUpstreamError(err, "Malformed vision response")
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", shared.NewUpstreamError(
			fmt.Errorf("no completion in response, body: %s", shared.Excerpt(body, 300)),
			"Malformed vision response")
	}

	return parsed.Choices[0].Message.Content, nil
}

func imagePart(img *dto.ImageData, detail string) contentPart {
	return contentPart{
		Type:     "image_url",
		ImageURL: &imagePayload{URL: img.DataURL, Detail: detail},
	}
}

// ==================== RESULT PARSING ====================

// stripJSONFences normalizes chat-style model output: models wrap JSON
// in markdown fences no matter how firmly the prompt forbids it.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}

func decodeResult(content string, dest dto.Validator) error {
	if err := shared.DecodeStrict([]byte(stripJSONFences(content)), dest); err != nil {
		return shared.NewUpstreamError(err, "Vision response failed validation")
	}
	if err := dest.Validate(); err != nil {
		return shared.NewUpstreamError(err, "Vision response failed validation")
	}
	return nil
}

func parseFoodCheck(content string) (*dto.FoodCheckResult, error) {
	var result dto.FoodCheckResult
	if err := decodeResult(content, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseMealComparison(content string) (*dto.MealComparisonResult, error) {
	var result dto.MealComparisonResult
	if err := decodeResult(content, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (svc *VisionService) recordVerdict(op, verdict string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordVerdict(op, verdict)
	}
}

func (svc *VisionService) recordEscalation(op string) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordEscalation(op)
	}
}

func (svc *VisionService) recordInference(op, detail, status string, duration time.Duration) {
	if svc.monitoringSvc != nil {
		svc.monitoringSvc.RecordInference(op, detail, status, duration)
	}
}
