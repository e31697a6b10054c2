package dto

type NutritionEstimateRequest struct {
	R2Key string `json:"r2Key" validate:"required,object_key" example:"users/0198a4b2/meals/dinner.jpg"`
}

func (r NutritionEstimateRequest) Validate() error {
	return GetValidator().Struct(r)
}

type FoodItemEstimate struct {
	Name     string  `json:"name" validate:"required"`
	Quantity string  `json:"quantity"`
	Kcal     float64 `json:"kcal" validate:"min=0"`
}

type NutritionEstimate struct {
	Items      []FoodItemEstimate `json:"items" validate:"dive"`
	TotalKcal  float64            `json:"total_kcal" validate:"min=0"`
	Confidence float64            `json:"confidence" validate:"min=0,max=1"`
	Notes      string             `json:"notes"`
}

func (r NutritionEstimate) Validate() error {
	return GetValidator().Struct(r)
}
