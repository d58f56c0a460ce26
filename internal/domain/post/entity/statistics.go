package entity

// Statistics aggregates pipeline counters for one account
type Statistics struct {
	AccountID string `json:"account_id"`

	Pending    int64 `json:"pending"`
	Rendering  int64 `json:"rendering"`
	Ready      int64 `json:"ready"`
	Publishing int64 `json:"publishing"`
	Published  int64 `json:"published"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`

	CarouselsPublished int64 `json:"carousels_published"`
}
