package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors is the site DOM contract. Every selector is a CSS query.
type Selectors struct {
	ItemCard     string `yaml:"item_card"`
	DetailLink   string `yaml:"detail_link"`
	NextPage     string `yaml:"next_page"`
	Title        string `yaml:"title"`
	Price        string `yaml:"price"`
	Odometer     string `yaml:"odometer"`
	Username     string `yaml:"username"`
	PhoneButton  string `yaml:"phone_button"`
	PhoneText    string `yaml:"phone_text"`
	ConsentClose string `yaml:"consent_close"`
	SellerInfo   string `yaml:"seller_info"`
	Image        string `yaml:"image"`
	ImageAttr    string `yaml:"image_attr"`
	ImageCount   string `yaml:"image_count"`
	PlateNumber  string `yaml:"plate_number"`
	VIN          string `yaml:"vin"`
}

// DefaultSelectors returns the selectors for the current auto.ria.com markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ItemCard:     "section.ticket-item",
		DetailLink:   "a.m-link-ticket, a.address",
		NextPage:     "a.js-next.page-link, a.page-link.js-next",
		Title:        "div#basicInfoTitle h1, div#sideTitleTitle span",
		Price:        "div#basicInfoPrice strong, div#sidePrice strong",
		Odometer:     "div#basicInfoTableMainInfo0 span",
		Username:     "div#sellerInfoUserName span",
		PhoneButton:  "button.size-large.conversion[data-action='showBottomPopUp']",
		PhoneText:    "div.popup-inner button.size-large.conversion span",
		ConsentClose: "button.fc-cta-do-not-consent",
		SellerInfo:   "div#sellerInfo",
		Image:        "img[data-src]",
		ImageAttr:    "data-src",
		ImageCount:   "span.common-badge.alpha.medium span",
		PlateNumber:  "div.car-number span",
		VIN:          "span#badgesVin span",
	}
}

// LoadSelectors overlays the YAML file at path on top of DefaultSelectors.
// An empty path returns the defaults.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("read selectors file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	return sel, nil
}
