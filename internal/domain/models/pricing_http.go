package models

// Requests for the pricing HTTP endpoints. Defined in domain for consistency and reuse.

type RecoRequest struct {
	SKU string `param:"sku" json:"sku" validate:"required,max=64"`
}

type AlertsRequest struct {
	SKU   string `query:"sku" json:"sku" validate:"omitempty,max=64"`
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type RunTriggerRequest struct {
	Date string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	SKUs []string `json:"skus" validate:"omitempty,dive,required,max=64"`
}

type RunSummaryRequest struct {
	Date string `param:"date" json:"date" validate:"required,datetime=2006-01-02"`
}
