package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/nomai-core/server/internal/nutrition"
)

const (
	ToolNutritionByDescription = "calculate_nutrition_by_food_description"
	ToolNutritionByImage       = "calculate_nutrition_by_image"
)

// All returns the agent's tool set backed by the nutrition service.
func All(svc *nutrition.Service) []tool.InvokableTool {
	return []tool.InvokableTool{
		newDescriptionTool(svc),
		newImageTool(svc),
	}
}

// ===================================
// Nutrition by food description
// ===================================

type DescriptionInput struct {
	FoodDescription    string   `json:"food_description"`
	DietaryPreferences []string `json:"dietary_preferences,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	HealthGoals        []string `json:"health_goals,omitempty"`
}

func newDescriptionTool(svc *nutrition.Service) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolNutritionByDescription,
			Desc: "Calculate nutrition information based on a food description. Use whenever the user describes a food or meal and wants nutritional analysis.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"food_description": {
					Type:     schema.String,
					Desc:     "Description of the food item, e.g. \"grilled chicken breast with rice\"",
					Required: true,
				},
				"dietary_preferences": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Dietary preferences, e.g. [\"vegetarian\", \"low-carb\"]",
				},
				"allergies": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Known allergies, e.g. [\"nuts\", \"dairy\"]",
				},
				"health_goals": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Health goals, e.g. [\"weight_loss\", \"muscle_gain\"]",
				},
			}),
		},
		func(ctx context.Context, in *DescriptionInput) (*nutrition.Result, error) {
			return svc.AnalyzeDescription(ctx, nutrition.InputPayload{
				FoodDescription:    in.FoodDescription,
				DietaryPreferences: in.DietaryPreferences,
				Allergies:          in.Allergies,
				SelectedGoals:      in.HealthGoals,
			})
		},
	)
}

// ===================================
// Nutrition by image
// ===================================

type ImageInput struct {
	ImageURL           string   `json:"image_url"`
	FoodDescription    string   `json:"food_description,omitempty"`
	DietaryPreferences []string `json:"dietary_preferences,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	HealthGoals        []string `json:"health_goals,omitempty"`
}

func newImageTool(svc *nutrition.Service) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolNutritionByImage,
			Desc: "Calculate nutrition information from a food image URL. Use when the user provides an image of their food.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"image_url": {
					Type:     schema.String,
					Desc:     "URL of the food image to analyze",
					Required: true,
				},
				"food_description": {
					Type: schema.String,
					Desc: "Optional user note about the pictured food",
				},
				"dietary_preferences": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Dietary preferences",
				},
				"allergies": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Known allergies",
				},
				"health_goals": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Health goals",
				},
			}),
		},
		func(ctx context.Context, in *ImageInput) (*nutrition.Result, error) {
			return svc.AnalyzeImage(ctx, nutrition.InputPayload{
				ImageURL:           in.ImageURL,
				FoodDescription:    in.FoodDescription,
				DietaryPreferences: in.DietaryPreferences,
				Allergies:          in.Allergies,
				SelectedGoals:      in.HealthGoals,
			})
		},
	)
}
