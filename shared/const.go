package shared

const (
	UserID = "user_id"

	VerdictFoodOK       = "FOOD_OK"
	VerdictNotFood      = "NOT_FOOD"
	VerdictUnverifiable = "UNVERIFIABLE"
	VerdictFinished     = "FINISHED"
	VerdictNotFinished  = "NOT_FINISHED"

	StageStartScan = "START_SCAN"
	StageEndScan   = "END_SCAN"

	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"

	OpVerifyFood        = "verify_food"
	OpCompareMeal       = "compare_meal"
	OpEstimateNutrition = "estimate_nutrition"
	OpBarcodeLookup     = "barcode_lookup"

	SourceCache         = "cache"
	SourceOpenFoodFacts = "openfoodfacts"
	SourceNotFound      = "not_found"

	DetailLow  = "low"
	DetailHigh = "high"

	HeaderDevBypass      = "x-dev-bypass"
	HeaderDevBypassToken = "x-dev-bypass-token"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)
