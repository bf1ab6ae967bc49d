package models

// Item is one listing row as returned by the page adapter.
// Index is the position of the row on the page at extraction time and is only
// meaningful for a follow-up click within the same cycle.
type Item struct {
	Index  int               `json:"index"`
	ID     string            `json:"id,omitempty"`
	Title  string            `json:"title"`
	Price  float64           `json:"price,omitempty"`
	Seller string            `json:"seller,omitempty"`
	URL    string            `json:"url,omitempty"`
	Status string            `json:"status,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Field returns a named attribute of the item. Well-known names map onto the
// struct fields; anything else is looked up in Fields.
func (i Item) Field(name string) string {
	switch name {
	case "id":
		return i.ID
	case "title":
		return i.Title
	case "seller":
		return i.Seller
	case "url":
		return i.URL
	case "status":
		return i.Status
	}
	if i.Fields == nil {
		return ""
	}
	return i.Fields[name]
}
