package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `
<html><body>
<table id="listings">
  <tr class="row" data-id="L-100">
    <td class="title">  RTX   4090 Founders </td>
    <td class="price">$1,499.00</td>
    <td class="seller">acme</td>
    <td><a class="link" href="/listing/100">view</a></td>
    <td class="region">NSW</td>
  </tr>
  <tr class="row" data-id="L-101">
    <td class="title">Desk lamp</td>
    <td class="price">n/a</td>
    <td class="seller"></td>
    <td><a class="link" href="/listing/101">view</a></td>
    <td class="region">VIC</td>
  </tr>
</table>
</body></html>`

func TestParseItems(t *testing.T) {
	items, err := ParseItems(listingHTML, Selectors{
		Item:        "tr.row",
		IDAttribute: "data-id",
		Fields: map[string]string{
			"title":  ".title",
			"price":  ".price",
			"seller": ".seller",
			"url":    "a.link",
			"region": ".region",
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "L-100", first.ID)
	assert.Equal(t, "RTX 4090 Founders", first.Title)
	assert.Equal(t, 1499.0, first.Price)
	assert.Equal(t, "acme", first.Seller)
	assert.Equal(t, "/listing/100", first.URL)
	assert.Equal(t, "NSW", first.Fields["region"])

	second := items[1]
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, 0.0, second.Price)
	assert.Empty(t, second.Seller)
}

func TestParseItems_RowTextFallback(t *testing.T) {
	items, err := ParseItems(`<ul><li class="i"> one  item </li><li class="i">two</li></ul>`, Selectors{Item: "li.i"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "one item", items[0].Title)
}

func TestParseItems_NoRows(t *testing.T) {
	items, err := ParseItems(`<html><body></body></html>`, Selectors{Item: "tr.row"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseItems_RequiresSelector(t *testing.T) {
	_, err := ParseItems(listingHTML, Selectors{})
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := map[string]float64{
		"$1,499.00": 1499,
		"AUD 20":    20,
		"-5.5":      -5.5,
		"free":      0,
		"":          0,
	}
	for in, want := range tests {
		assert.Equal(t, want, parsePrice(in), in)
	}
}
