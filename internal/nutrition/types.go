package nutrition

// InputPayload carries a nutrition analysis request: either a food image
// (base64 data or URL) or a textual description, plus the user's dietary
// profile so recommendations can be tailored.
type InputPayload struct {
	ImageData          string   `json:"imageData,omitempty"`
	ImageURL           string   `json:"imageUrl,omitempty"`
	FoodDescription    string   `json:"food_description,omitempty"`
	DietaryPreferences []string `json:"dietaryPreferences,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	SelectedGoals      []string `json:"selectedGoals,omitempty"`
}

// Ingredient is the nutritional breakdown of one component of a dish.
type Ingredient struct {
	Name           string `json:"name"`
	Calories       int    `json:"calories"`
	Protein        int    `json:"protein"`
	Carbs          int    `json:"carbs"`
	Fiber          int    `json:"fiber"`
	Fat            int    `json:"fat"`
	HealthScore    int    `json:"healthScore"`
	HealthComments string `json:"healthComments"`
}

// Recommendation suggests a complementary food to balance the meal.
type Recommendation struct {
	Food      string `json:"food"`
	Quantity  string `json:"quantity"`
	Reasoning string `json:"reasoning"`
}

// Concern names a nutritional issue found in the analyzed food.
type Concern struct {
	Issue           string           `json:"issue"`
	Explanation     string           `json:"explanation"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Analysis is the structured result of one nutrition analysis call.
type Analysis struct {
	Message               string       `json:"message,omitempty"`
	ImageURL              string       `json:"imageUrl,omitempty"`
	FoodName              string       `json:"foodName"`
	Portion               string       `json:"portion"`
	PortionSize           float64      `json:"portionSize"`
	ConfidenceScore       int          `json:"confidenceScore"`
	Ingredients           []Ingredient `json:"ingredients,omitempty"`
	PrimaryConcerns       []Concern    `json:"primaryConcerns,omitempty"`
	SuggestAlternatives   []Ingredient `json:"suggestAlternatives,omitempty"`
	OverallHealthScore    int          `json:"overallHealthScore"`
	OverallHealthComments string       `json:"overallHealthComments"`
}

// Usage records token consumption of the underlying model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result wraps an Analysis with call metadata for API responses and tool
// returns.
type Result struct {
	Response *Analysis `json:"response"`
	Status   int       `json:"status"`
	Message  string    `json:"message"`
	Usage    *Usage    `json:"usage,omitempty"`
}
