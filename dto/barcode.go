package dto

import "encoding/json"

type BarcodeLookupRequest struct {
	Barcode string `json:"barcode" validate:"required,numeric,min=4,max=32" example:"3017620422003"`
}

func (r BarcodeLookupRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ProductInfo struct {
	Barcode            string          `json:"barcode"`
	ProductName        string          `json:"product_name"`
	CaloriesPerServing float64         `json:"calories_per_serving"`
	ServingSize        string          `json:"serving_size,omitempty"`
	Macros             json.RawMessage `json:"macros,omitempty"`
	Source             string          `json:"source"`
}
