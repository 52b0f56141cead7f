package nutrition

import (
	"fmt"
	"strings"
)

// BuildAnalysisPrompt renders the analysis instruction for the model. The
// same template backs the image and description paths; only the lead-in
// differs. Profile lists are rendered as comma-separated values, with "none"
// when empty so the model never sees a dangling placeholder.
func BuildAnalysisPrompt(description string, goals, diets, allergies []string, forImage bool) string {
	var b strings.Builder

	if forImage {
		b.WriteString("Analyze the food in the provided image and estimate its nutritional content.\n")
		if description != "" {
			fmt.Fprintf(&b, "The user says about it: %q\n", description)
		}
	} else {
		fmt.Fprintf(&b, "Analyze the nutritional content of the following food: %q\n", description)
	}

	b.WriteString("\nUser profile:\n")
	fmt.Fprintf(&b, "- Dietary preferences: %s\n", listOrNone(diets))
	fmt.Fprintf(&b, "- Allergies: %s\n", listOrNone(allergies))
	fmt.Fprintf(&b, "- Health goals: %s\n", listOrNone(goals))

	b.WriteString(`
Estimate per-ingredient calories, protein, carbs, fiber and fat in grams,
score each ingredient and the overall meal for healthiness, flag primary
nutritional concerns with practical recommendations, and suggest healthier
alternatives where relevant. Set confidenceScore between 0 and 10; use a low
score when the food cannot be identified with certainty, and 0 when no food
is present at all. Respond with JSON matching the response schema.`)

	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
