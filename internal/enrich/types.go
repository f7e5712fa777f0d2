package enrich

import "github.com/JakeFAU/leadfinder/internal/ledger"

// Request is one caller invocation. All fields are required.
type Request struct {
	Keyword  string `json:"keyword"`
	Location string `json:"location"`
	APIKey   string `json:"apiKey"`
}

// Remaining reports the balance left after the run's reservation.
type Remaining struct {
	Free  int `json:"free"`
	Paid  int `json:"paid"`
	Total int `json:"total"`
}

// RemainingFrom converts a ledger balance.
func RemainingFrom(b ledger.Balance) Remaining {
	return Remaining{Free: b.Free, Paid: b.Paid, Total: b.Total()}
}

// Row is one enriched place in the final, ordered result table.
type Row struct {
	Index     int      `json:"index"`
	StoreName string   `json:"storeName"`
	Address   string   `json:"address"`
	Phone     string   `json:"phone"`
	Rating    *float64 `json:"rating"`
	Homepage  *string  `json:"homepage"`
	Email     *string  `json:"email"`
	Social    *string  `json:"social"`
	Keyword   string   `json:"keyword"`
	Location  string   `json:"location"`
}

// Response is returned for a completed run.
type Response struct {
	RunID     string      `json:"-"`
	Mode      ledger.Pool `json:"mode"`
	PerRun    int         `json:"perRun"`
	Remaining Remaining   `json:"remaining"`
	Count     int         `json:"count"`
	Results   []Row       `json:"results"`
}
