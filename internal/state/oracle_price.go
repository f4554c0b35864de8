package state

// PriceHistoryLen is the number of accepted prices kept for the emergency fallback.
const PriceHistoryLen = 5

// OraclePrice is the canonical price record of one feed.
type OraclePrice struct {
	Feed          string `json:"feed"`
	PriceFP       int64  `json:"price_fp"`
	LastUpdatedTs int64  `json:"last_updated_ts"`
	ConfidenceFP  int64  `json:"confidence_fp"`
	NumPublishers int64  `json:"num_publishers"`
	IsValid       bool   `json:"is_valid"`

	// Ring of the most recent accepted prices, newest last.
	History []int64 `json:"history"`

	// Last raw external record for secondary feeds; decoded at read time.
	External []byte `json:"external,omitempty"`
}

func NewOraclePrice(feed string) *OraclePrice {
	return &OraclePrice{Feed: feed}
}

// PushHistory appends a price, keeping the last PriceHistoryLen entries.
func (o *OraclePrice) PushHistory(priceFP int64) {
	o.History = append(o.History, priceFP)
	if len(o.History) > PriceHistoryLen {
		o.History = append([]int64(nil), o.History[len(o.History)-PriceHistoryLen:]...)
	}
}

func (o *OraclePrice) Clone() *OraclePrice {
	cp := *o
	cp.History = append([]int64(nil), o.History...)
	if o.External != nil {
		cp.External = append([]byte(nil), o.External...)
	}
	return &cp
}
