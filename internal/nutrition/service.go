package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/genai"

	errx "github.com/nomai-core/server/internal/core/error"
	logx "github.com/nomai-core/server/pkg/logger"
)

// Config tunes the nutrition analysis model call.
type Config struct {
	Model               string  `envconfig:"NUTRITION_MODEL" default:"gemini-2.0-flash"`
	Temperature         float32 `envconfig:"NUTRITION_TEMPERATURE" default:"0"`
	TimeoutSeconds      int     `envconfig:"NUTRITION_TIMEOUT_SECONDS" default:"60"`
	MinConfidenceScore  int     `envconfig:"NUTRITION_MIN_CONFIDENCE" default:"3"`
	ImageFetchTimeoutMS int     `envconfig:"NUTRITION_IMAGE_FETCH_TIMEOUT_MS" default:"10000"`
}

// Service analyzes food images and descriptions with Gemini structured
// output. The genai client is stateless per call and safe to share across
// requests; per-request data (profile, prompt) never lives on the Service.
type Service struct {
	client *genai.Client
	cfg    Config
	httpc  *http.Client
}

func NewService(client *genai.Client, cfg Config) *Service {
	return &Service{
		client: client,
		cfg:    cfg,
		httpc:  &http.Client{Timeout: time.Duration(cfg.ImageFetchTimeoutMS) * time.Millisecond},
	}
}

// AnalyzeImage runs nutrition analysis over a food image supplied as base64
// data or a URL, preferring the inline data when both are present.
func (s *Service) AnalyzeImage(ctx context.Context, in InputPayload) (*Result, error) {
	var (
		raw    []byte
		format string
		err    error
	)
	switch {
	case in.ImageData != "":
		raw, format, err = DecodeImage(in.ImageData)
		if err != nil {
			return nil, err
		}
	case in.ImageURL != "":
		raw, err = s.fetchImage(ctx, in.ImageURL)
		if err != nil {
			return nil, err
		}
		format = DetectImageFormat(raw)
		if format == "" {
			format = "jpeg"
		}
	default:
		return nil, errx.Validation(errx.CodeMissingRequiredField, "image data is required", errx.Detail{
			Field:      "imageData",
			Constraint: "required",
			Suggestion: "provide a valid base64 encoded image",
		})
	}

	prompt := BuildAnalysisPrompt(in.FoodDescription, in.SelectedGoals, in.DietaryPreferences, in.Allergies, true)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(raw, "image/"+format),
		}, genai.RoleUser),
	}

	res, err := s.generate(ctx, contents)
	if err != nil {
		return nil, err
	}
	if res.Response != nil {
		res.Response.ImageURL = in.ImageURL
	}
	return res, nil
}

// AnalyzeDescription runs nutrition analysis over a textual food description.
func (s *Service) AnalyzeDescription(ctx context.Context, in InputPayload) (*Result, error) {
	if in.FoodDescription == "" {
		return nil, errx.Validation(errx.CodeMissingRequiredField, "food description is required", errx.Detail{
			Field:      "food_description",
			Constraint: "required",
			Suggestion: "describe the food, e.g. \"grilled chicken breast with rice\"",
		})
	}

	prompt := BuildAnalysisPrompt(in.FoodDescription, in.SelectedGoals, in.DietaryPreferences, in.Allergies, false)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	return s.generate(ctx, contents)
}

func (s *Service) generate(ctx context.Context, contents []*genai.Content) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
		Temperature:      genai.Ptr[float32](s.cfg.Temperature),
	})
	if err != nil {
		logx.Error().Err(err).Str("model", s.cfg.Model).Msg("nutrition analysis call failed")
		return nil, errx.ClassifyModelError(err, "Gemini AI")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(resp.Text()), &analysis); err != nil {
		logx.Error().Err(err).Msg("failed to parse nutrition analysis result")
		return nil, errx.New(err, errx.CodeInternal, "failed to parse nutrition analysis results")
	}

	if analysis.FoodName == "" || analysis.ConfidenceScore <= 0 {
		return nil, errx.New(nil, errx.CodeNoFoodDetected, "no food detected in the provided input")
	}
	if analysis.ConfidenceScore < s.cfg.MinConfidenceScore {
		return nil, errx.New(nil, errx.CodeConfidenceTooLow,
			fmt.Sprintf("analysis confidence %d is below the minimum %d", analysis.ConfidenceScore, s.cfg.MinConfidenceScore))
	}

	result := &Result{
		Response: &analysis,
		Status:   http.StatusOK,
		Message:  "SUCCESS",
	}
	if u := resp.UsageMetadata; u != nil {
		result.Usage = &Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	logx.Debug().
		Str("model", s.cfg.Model).
		Str("food", analysis.FoodName).
		Int("confidence", analysis.ConfidenceScore).
		Dur("took", time.Since(start)).
		Msg("nutrition analysis complete")
	return result, nil
}

func (s *Service) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errx.Validation(errx.CodeInvalidInput, "invalid image URL", errx.Detail{
			Field: "imageUrl", Constraint: "valid_url",
		})
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, errx.New(err, errx.CodeModelAPIError, "failed to fetch image URL")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errx.New(fmt.Errorf("status %d", resp.StatusCode), errx.CodeModelAPIError, "failed to fetch image URL")
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, errx.New(err, errx.CodeModelAPIError, "failed to read image body")
	}
	if len(raw) > MaxImageSize {
		return nil, errx.New(nil, errx.CodeImageTooLarge, "fetched image exceeds the maximum allowed size")
	}
	return raw, nil
}

// analysisSchema constrains Gemini's JSON output to the Analysis shape.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"foodName":        {Type: genai.TypeString, Description: "Name of the analyzed food"},
		"portion":         {Type: genai.TypeString, Description: "Portion unit: cup, gram or slices"},
		"portionSize":     {Type: genai.TypeNumber},
		"confidenceScore": {Type: genai.TypeInteger, Description: "Analysis confidence from 0 to 10"},
		"ingredients": {
			Type:  genai.TypeArray,
			Items: ingredientSchema,
		},
		"primaryConcerns": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"issue":       {Type: genai.TypeString},
					"explanation": {Type: genai.TypeString},
					"recommendations": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"food":      {Type: genai.TypeString},
								"quantity":  {Type: genai.TypeString},
								"reasoning": {Type: genai.TypeString},
							},
							Required: []string{"food", "quantity", "reasoning"},
						},
					},
				},
				Required: []string{"issue", "explanation"},
			},
		},
		"suggestAlternatives": {
			Type:  genai.TypeArray,
			Items: ingredientSchema,
		},
		"overallHealthScore":    {Type: genai.TypeInteger, Description: "Overall health score from 0 to 100"},
		"overallHealthComments": {Type: genai.TypeString},
	},
	Required: []string{
		"foodName", "portion", "portionSize", "confidenceScore",
		"overallHealthScore", "overallHealthComments",
	},
}

var ingredientSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"name":           {Type: genai.TypeString},
		"calories":       {Type: genai.TypeInteger},
		"protein":        {Type: genai.TypeInteger},
		"carbs":          {Type: genai.TypeInteger},
		"fiber":          {Type: genai.TypeInteger},
		"fat":            {Type: genai.TypeInteger},
		"healthScore":    {Type: genai.TypeInteger},
		"healthComments": {Type: genai.TypeString},
	},
	Required: []string{"name", "calories", "protein", "carbs", "fiber", "fat", "healthScore", "healthComments"},
}
