package shared

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, handler fiber.Handler) (*http.Response, []byte) {
	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestDecodeStrict_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Verdict string `json:"verdict"`
	}

	err := DecodeStrict([]byte(`{"verdict":"FOOD","bonus":true}`), &dst)
	assert.Error(t, err)

	err = DecodeStrict([]byte(`{"verdict":"FOOD"}`), &dst)
	require.NoError(t, err)
	assert.Equal(t, "FOOD", dst.Verdict)
}

func TestJSONMarshal_EmptyCollectionsStayCollections(t *testing.T) {
	type payload struct {
		Items []string          `json:"items"`
		Tags  map[string]string `json:"tags"`
	}

	body, err := JSONMarshal(payload{})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[],"tags":{}}`, string(body))
}

func TestResponseJSON_WritesVerbatimBody(t *testing.T) {
	type result struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
	}

	resp, body := runHandler(t, func(c *fiber.Ctx) error {
		return ResponseJSON(c, http.StatusOK, result{Verdict: "FOOD", Confidence: 0.92})
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, `{"verdict":"FOOD","confidence":0.92}`, string(body))
}

func TestResponseError_PlainEnvelope(t *testing.T) {
	resp, body := runHandler(t, func(c *fiber.Ctx) error {
		return ResponseError(c, http.StatusNotFound, "Image not found", nil)
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, `{"error":"Image not found"}`, string(body))
}

func TestResponseError_MergesExtraFields(t *testing.T) {
	resp, body := runHandler(t, func(c *fiber.Ctx) error {
		return ResponseError(c, http.StatusTooManyRequests, "Daily limit reached. Try again tomorrow.", map[string]interface{}{
			"retry_after": 42,
			"error":       "should not survive",
		})
	})

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "Daily limit reached. Try again tomorrow.", payload["error"])
	assert.EqualValues(t, 42, payload["retry_after"])
}

func TestCannedResponses(t *testing.T) {
	cases := []struct {
		handler fiber.Handler
		status  int
		body    string
	}{
		{ResponseUnauthorized, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{ResponseForbidden, http.StatusForbidden, `{"error":"Forbidden"}`},
		{ResponseNotFound, http.StatusNotFound, `{"error":"Not found"}`},
		{ResponseInternalError, http.StatusInternalServerError, `{"error":"Internal server error"}`},
	}

	for _, tc := range cases {
		resp, body := runHandler(t, tc.handler)
		assert.Equal(t, tc.status, resp.StatusCode)
		assert.Equal(t, tc.body, string(body))
	}
}
