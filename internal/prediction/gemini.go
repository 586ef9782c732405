package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"graminbus/internal/bus"
)

const DefaultModel = "gemini-3-flash-preview"

// Gemini asks a Gemini model for a structured bilingual prediction.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func prompt(route string, capacity bus.Capacity, traffic bus.Traffic) string {
	return fmt.Sprintf(`Context: Rural bus near Shahpura village.
Bus Route: %s
Capacity: %s
Traffic reported by conductor: %s
Predict arrival minutes (ETA) and a short message in English and Hindi.`, route, capacity, traffic)
}

var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"prediction":      {Type: genai.TypeString},
		"hindiPrediction": {Type: genai.TypeString},
		"etaMins":         {Type: genai.TypeNumber},
	},
	Required: []string{"prediction", "hindiPrediction", "etaMins"},
}

func (g *Gemini) Generate(ctx context.Context, route string, capacity bus.Capacity, traffic bus.Traffic) (Result, error) {
	budget := int32(0)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
		ThinkingConfig:   &genai.ThinkingConfig{ThinkingBudget: &budget},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt(route, capacity, traffic)), cfg)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	return parseResponse(resp.Text())
}

func parseResponse(text string) (Result, error) {
	var out struct {
		Prediction      string  `json:"prediction"`
		HindiPrediction string  `json:"hindiPrediction"`
		EtaMins         float64 `json:"etaMins"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Result{}, fmt.Errorf("decode prediction: %w", err)
	}
	if out.Prediction == "" || out.EtaMins < 0 {
		return Result{}, fmt.Errorf("incomplete prediction %q", text)
	}
	return Result{
		Prediction:      out.Prediction,
		HindiPrediction: out.HindiPrediction,
		EtaMins:         int(math.Round(out.EtaMins)),
	}, nil
}
