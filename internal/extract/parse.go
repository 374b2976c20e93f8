package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/autoria-crawler/internal/entity"
	"github.com/user/autoria-crawler/pkg/config"
)

// ListingPage is what one search-results page yields. Hrefs are returned as
// found in the markup; the caller filters and resolves them.
type ListingPage struct {
	DetailHrefs []string
	NextHref    string
}

// ParseListingPage reads the detail link of every item card and the first
// next-page link.
func ParseListingPage(body []byte, sel config.Selectors) (*ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	page := &ListingPage{}
	doc.Find(sel.ItemCard).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find(sel.DetailLink).First().Attr("href")
		if href = strings.TrimSpace(href); ok && href != "" {
			page.DetailHrefs = append(page.DetailHrefs, href)
		}
	})
	if href, ok := doc.Find(sel.NextPage).First().Attr("href"); ok {
		page.NextHref = strings.TrimSpace(href)
	}
	return page, nil
}

// ParseDetail extracts the raw fields from a rendered detail page. phone is
// the revealed phone text, empty when the reveal failed.
func ParseDetail(html, url, phone string, sel config.Selectors) (*entity.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	raw := &entity.RawListing{
		URL:        url,
		Title:      ownTexts(doc, sel.Title),
		Price:      ownTexts(doc, sel.Price),
		Odometer:   first(ownTexts(doc, sel.Odometer)),
		Username:   first(ownTexts(doc, sel.Username)),
		ImageCount: ownTexts(doc, sel.ImageCount),
		Plate:      first(ownTexts(doc, sel.PlateNumber)),
		VIN:        first(ownTexts(doc, sel.VIN)),
		Phones:     []string{},
	}
	if strings.TrimSpace(phone) != "" {
		raw.Phones = append(raw.Phones, strings.TrimSpace(phone))
	}
	doc.Find(sel.Image).Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr(sel.ImageAttr); ok && strings.TrimSpace(src) != "" {
			raw.Images = append(raw.Images, strings.TrimSpace(src))
		}
	})
	return raw, nil
}

// ownTexts returns the non-blank text nodes that are direct children of each
// matched element, in document order.
func ownTexts(doc *goquery.Document, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) != "#text" {
				return
			}
			if t := strings.TrimSpace(c.Text()); t != "" {
				out = append(out, t)
			}
		})
	})
	return out
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
