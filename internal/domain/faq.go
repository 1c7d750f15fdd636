package domain

// FAQDocument is the static knowledge document behind the FAQ index.
// Read-only to this service; absent or corrupt documents degrade to an
// empty index rather than failing callers.
type FAQDocument struct {
	CompanyInfo    CompanyInfo    `json:"company_info"`
	FAQ            []FAQEntry     `json:"faq"`
	Pricing        map[string]any `json:"pricing"`
	TargetAudience []string       `json:"target_audience"`
}

// FAQEntry is a single question/answer pair, kept in document order.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// CompanyInfo backs the fallback summary when no FAQ entry matches.
type CompanyInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Services    []string `json:"services"`
}
