package shared

import (
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

type errorBody struct {
	Error string `json:"error"`
}

var jsonAPI = sonic.Config{
	UseNumber:            true,
	EscapeHTML:           false,
	SortMapKeys:          false,
	CompactMarshaler:     true,
	NoQuoteTextMarshaler: true,
	NoNullSliceOrMap:     true,
}.Froze()

var strictJSON = sonic.Config{
	UseNumber:             true,
	EscapeHTML:            false,
	CompactMarshaler:      true,
	DisallowUnknownFields: true,
}.Froze()

var (
	unauthorizedBody  = mustMarshal(errorBody{Error: "Unauthorized"})
	forbiddenBody     = mustMarshal(errorBody{Error: "Forbidden"})
	notFoundBody      = mustMarshal(errorBody{Error: "Not found"})
	internalErrorBody = mustMarshal(errorBody{Error: "Internal server error"})
)

func mustMarshal(v interface{}) []byte {
	b, _ := jsonAPI.Marshal(v)
	return b
}

func JSONMarshal(v interface{}) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

func JSONUnmarshal(data []byte, v interface{}) error {
	return jsonAPI.Unmarshal(data, v)
}

// DecodeStrict rejects unknown fields so malformed client bodies and
// off-schema model output fail loudly instead of half-parsing.
func DecodeStrict(data []byte, v interface{}) error {
	return strictJSON.Unmarshal(data, v)
}

// ResponseJSON writes v verbatim as the response body.
func ResponseJSON(c *fiber.Ctx, httpCode int, v interface{}) error {
	body, err := jsonAPI.Marshal(v)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).Send(internalErrorBody)
	}
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(httpCode).Send(body)
}

// ResponseError writes the {"error": ...} envelope, merging any extra
// fields (rate limit metadata and the like) alongside the message.
func ResponseError(c *fiber.Ctx, httpCode int, message string, extra map[string]interface{}) error {
	if len(extra) == 0 {
		return ResponseJSON(c, httpCode, errorBody{Error: message})
	}

	payload := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload["error"] = message
	return ResponseJSON(c, httpCode, payload)
}

func ResponseUnauthorized(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(fiber.StatusUnauthorized).Send(unauthorizedBody)
}

func ResponseForbidden(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(fiber.StatusForbidden).Send(forbiddenBody)
}

func ResponseNotFound(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(fiber.StatusNotFound).Send(notFoundBody)
}

func ResponseInternalError(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	return c.Status(fiber.StatusInternalServerError).Send(internalErrorBody)
}
