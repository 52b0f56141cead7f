package web

import (
	"encoding/json"
	"net/http"

	errx "github.com/nomai-core/server/internal/core/error"
	"github.com/nomai-core/server/internal/nutrition"
)

// handleNutrition analyzes a food image directly, without the chat agent.
func (s *Server) handleNutrition(w http.ResponseWriter, r *http.Request) {
	var payload nutrition.InputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, errx.Validation(errx.CodeInvalidInput, "request body is not valid JSON", errx.Detail{}))
		return
	}

	if payload.ImageData == "" && payload.ImageURL == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "image data is required", errx.Detail{
			Field:      "imageData",
			Constraint: "required",
			Suggestion: "provide a valid base64 encoded image",
		}))
		return
	}

	result, err := s.nutrition.AnalyzeImage(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondNutrition(w, result)
}

// handleNutritionDescription analyzes a textual food description directly.
func (s *Server) handleNutritionDescription(w http.ResponseWriter, r *http.Request) {
	var payload nutrition.InputPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, errx.Validation(errx.CodeInvalidInput, "request body is not valid JSON", errx.Detail{}))
		return
	}

	if payload.FoodDescription == "" {
		s.writeError(w, r, errx.Validation(errx.CodeMissingRequiredField, "food description is required", errx.Detail{
			Field:      "food_description",
			Constraint: "required",
			Suggestion: "describe the food, e.g. \"grilled chicken breast with rice\"",
		}))
		return
	}

	result, err := s.nutrition.AnalyzeDescription(r.Context(), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondNutrition(w, result)
}

func (s *Server) respondNutrition(w http.ResponseWriter, result *nutrition.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_ = json.NewEncoder(w).Encode(result)
}
