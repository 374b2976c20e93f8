package entity

import "time"

// Listing mirrors the listings table (car_products by default). Nil pointers
// are stored as NULL.
type Listing struct {
	ID             int64     `json:"id,omitempty"`
	URL            string    `json:"url"`
	Title          *string   `json:"title"`
	PriceUSD       *int64    `json:"price_usd"`
	OdometerKM     *int64    `json:"odometer_km"`
	SellerUsername *string   `json:"seller_username"`
	PhoneNumbers   []int64   `json:"phone_numbers"`
	ImageURLs      []string  `json:"image_urls"`
	ImageCount     *int64    `json:"image_count"`
	PlateNumber    *string   `json:"plate_number"`
	VIN            *string   `json:"vin"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}
