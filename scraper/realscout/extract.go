package realscout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listing-sync/models"
	"listing-sync/utils"
)

// Source is stamped into scraped_source.
const Source = "RealScout"

// ErrNoListing means the page has no listing detail box.
var ErrNoListing = errors.New("realscout: page has no listing details")

const (
	mainBoxSelector  = "div.col-8.col-sm-8.col-md-7"
	priceBoxSelector = "div.col-4.col-sm-4.col-md-5.text-right"
	historyDate      = "Jan 2, 2006"
)

// Card titles that hold no listing data.
var skipCards = []string{"which", "open houses", "questions"}

// Extract parses a listing detail page into a fragment. Values are left as
// scraped strings except the listing history, whose dates and prices are
// parsed.
func Extract(html string) (models.Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("realscout: parse html: %w", err)
	}

	main, err := mainBox(doc)
	if err != nil {
		return nil, err
	}
	frag := models.Fragment{
		"main":    main,
		"listing": priceBox(doc),
	}
	cards(doc, frag)
	return frag, nil
}

func mainBox(doc *goquery.Document) (models.Category, error) {
	box := doc.Find(mainBoxSelector).First()
	if box.Length() == 0 {
		return nil, ErrNoListing
	}

	address := text(box.Find("h1").First())
	cityState := text(box.Find("h2").First())
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNoListing)
	}

	main := models.Category{
		"address":      address,
		"city_state":   cityState,
		"full_address": strings.TrimSpace(address + " " + cityState),
		"badge":        text(box.Find("a").First()),
	}

	vitals := splitVitals(box.Find("h5").First().Text())
	for i, key := range []string{"beds", "baths", "sqft"} {
		if i < len(vitals) {
			main[key] = vitals[i]
		}
	}
	return main, nil
}

// splitVitals splits "3 bd | 2 ba | 1,540 sqft" and keeps the
// leading number of each part.
func splitVitals(s string) []string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}

func priceBox(doc *goquery.Document) models.Category {
	info := models.Category{}
	box := doc.Find(priceBoxSelector).First()
	if box.Length() == 0 {
		return info
	}

	price := text(box.Find("h2").First())
	if price != "" {
		info["list_price"] = price
	}

	badge := text(box.Find("p").First())
	if !strings.Contains(strings.ToLower(badge), "sold") {
		return info
	}
	if i := strings.LastIndex(badge, ": "); i >= 0 {
		info["sold"] = strings.TrimSpace(badge[i+2:])
	}
	info["sale_price"] = price
	if small := strings.Fields(box.Find("small").First().Text()); len(small) > 0 {
		info["list_price"] = small[len(small)-1]
	}
	return info
}

// cards reads every "card" block. The first one holds the basic facts and
// the description; the others are titled label:value lists, except the
// listing history table.
func cards(doc *goquery.Document, frag models.Fragment) {
	doc.Find("div.card").Each(func(i int, card *goquery.Selection) {
		header := text(card.Find("div.card-header").First())

		if i == 0 {
			basic := category(frag, "basic_info")
			card.Find("div.col-12").Each(func(_ int, field *goquery.Selection) {
				if k, v, ok := labelValue(field.Text()); ok {
					basic[k] = v
				}
			})
			if header != "" {
				basic["description"] = header
			}
			return
		}

		if header == "" || skipCard(header) {
			return
		}

		fields := card.Find("div.col-12")
		if fields.Length() > 0 {
			cat := category(frag, utils.FieldKey(header))
			fields.Each(func(_ int, field *goquery.Selection) {
				if k, v, ok := labelValue(field.Text()); ok {
					cat[k] = v
				}
			})
			return
		}

		if history := historyRows(card.Find("div.col-4")); len(history) > 0 {
			category(frag, "listing_history")["events"] = history
		}
	})
}

func category(frag models.Fragment, name string) models.Category {
	cat, ok := frag[name]
	if !ok {
		cat = models.Category{}
		frag[name] = cat
	}
	return cat
}

func skipCard(title string) bool {
	lower := strings.ToLower(title)
	for _, s := range skipCards {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// labelValue splits "Year Built:  1962" into ("year_built", "1962").
func labelValue(s string) (string, string, bool) {
	label, value, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", false
	}
	key := utils.FieldKey(label)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(strings.ReplaceAll(value, "\u00a0", " ")), true
}

// historyRows groups the history cells in threes: date, from, to.
func historyRows(cells *goquery.Selection) []any {
	vals := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		vals = append(vals, text(c))
	})

	var rows []any
	for i := 0; i+2 < len(vals); i += 3 {
		row := map[string]any{"date": vals[i], "from": vals[i+1], "to": vals[i+2]}
		if t, err := time.Parse(historyDate, vals[i]); err == nil {
			row["date"] = t.Format("2006-01-02")
		}
		for _, k := range []string{"from", "to"} {
			if f, ok := currency(row[k].(string)); ok {
				row[k] = f
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func currency(s string) (float64, bool) {
	s = strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(s))
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(strings.ReplaceAll(s.Text(), "\u00a0", " "))
}
