package domain

// Record is one structured row scraped from device or runner output.
type Record map[string]string

// Extractor turns raw text into records using a named template.
type Extractor interface {
	Extract(raw, template string) ([]Record, error)
}
