package entity

// RawListing holds the untouched text scraped from one rendered detail page.
// Multi-valued fields keep every matched fragment in document order.
type RawListing struct {
	URL        string
	Title      []string
	Price      []string
	Odometer   string
	Username   string
	Phones     []string
	Images     []string
	ImageCount []string
	Plate      string
	VIN        string
}
