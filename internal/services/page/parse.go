package page

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Selectors locate listing rows and their fields in the page HTML
type Selectors struct {
	Item        string            // One element per listing row
	IDAttribute string            // Attribute on the row carrying the listing id
	Fields      map[string]string // Field name -> selector relative to the row
}

// ParseItems extracts one Item per row matched by sel.Item. The well-known
// field names title, price, seller, url and status fill the struct fields;
// the url field takes the href of its element when present.
func ParseItems(html string, sel Selectors) ([]models.Item, error) {
	if sel.Item == "" {
		return nil, fmt.Errorf("item selector is required")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	var items []models.Item
	doc.Find(sel.Item).Each(func(i int, row *goquery.Selection) {
		item := models.Item{Index: i}
		if sel.IDAttribute != "" {
			item.ID = strings.TrimSpace(row.AttrOr(sel.IDAttribute, ""))
		}

		for name, selector := range sel.Fields {
			target := row.Find(selector).First()
			value := cleanText(target.Text())

			switch name {
			case "title":
				item.Title = value
			case "price":
				item.Price = parsePrice(value)
			case "seller":
				item.Seller = value
			case "status":
				item.Status = value
			case "url":
				if href, ok := target.Attr("href"); ok {
					value = strings.TrimSpace(href)
				}
				item.URL = value
			default:
				if item.Fields == nil {
					item.Fields = make(map[string]string)
				}
				item.Fields[name] = value
			}
		}

		if item.Title == "" && len(sel.Fields) == 0 {
			item.Title = cleanText(row.Text())
		}
		items = append(items, item)
	})

	return items, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parsePrice keeps digits, the decimal point and a leading minus, treating a
// comma as a thousands separator. Unparseable input yields 0.
func parsePrice(s string) float64 {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return v
}
