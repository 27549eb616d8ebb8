package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/talkincode/wagate/internal/genai"
)

// generateMessage drafts a message with the configured LLM backend
// without sending it anywhere.
func (h *Handler) generateMessage(c echo.Context) error {
	device := currentDevice(c)

	var payload struct {
		Prompt   string `json:"prompt"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Prompt == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "prompt is required", nil)
	}

	provider := payload.Provider
	if provider == "" {
		provider = device.AiProvider
	}
	model := payload.Model
	if model == "" {
		model = device.AiModel
	}

	text, err := h.genai.Generate(c.Request().Context(), genai.Request{
		Provider:     provider,
		Model:        model,
		Message:      payload.Prompt,
		GeminiApiKey: device.GeminiApiKey,
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "GENERATION_FAILED", "Failed to generate message", err.Error())
	}
	return ok(c, map[string]interface{}{"message": text})
}
