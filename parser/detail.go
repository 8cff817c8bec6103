package parser

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-phones/models"
)

const (
	titleSelector = "h1.specs-phone-name-title"
	imageSelector = "div.specs-photo-main img"
	labelSelector = "td.ttl"
	valueSelector = "td.nfo"
)

var (
	yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	lineBreaks  = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// ParseDetail extracts the canonical fields from a device detail page. A
// missing structural element leaves its field at models.Unknown; only
// unreadable HTML is an error.
func ParseDetail(body io.Reader, pageURL *url.URL, brand string) (models.Device, error) {
	device := models.NewDevice()
	if brand = strings.TrimSpace(brand); brand != "" {
		device.Brand = brand
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return device, fmt.Errorf("parse detail html: %w", err)
	}

	if name := cleanText(doc.Find(titleSelector).First().Text()); name != "" {
		device.Name = name
	}
	if src, ok := doc.Find(imageSelector).First().Attr("src"); ok {
		if abs := resolve(pageURL, src); abs != "" {
			device.ImageURL = abs
		}
	}

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		label := row.Find(labelSelector).First()
		value := row.Find(valueSelector).First()
		if label.Length() == 0 || value.Length() == 0 {
			return
		}
		assignSpec(&device, strings.ToLower(cleanText(label.Text())), cleanText(value.Text()))
	})

	return device, nil
}

// cleanText trims a cell and folds carriage returns into plain newlines, which
// comma-delimited readers would otherwise drop inside quoted fields.
func cleanText(s string) string {
	return strings.TrimSpace(lineBreaks.Replace(s))
}

// assignSpec maps one label/value row onto the device. Order matters: the
// first matching predicate owns the row. Camera and screen keep the first
// value seen; later rows for them are dropped.
func assignSpec(d *models.Device, label, value string) {
	switch {
	case strings.Contains(label, "chipset"):
		d.CPU = value
	case strings.Contains(label, "internal"):
		d.Storage = value
	case strings.Contains(label, "camera") || strings.Contains(label, "main"):
		if d.Camera == models.Unknown {
			d.Camera = value
		}
	case strings.Contains(label, "battery"):
		d.Battery = value
	case strings.Contains(label, "size"):
		if d.Screen == models.Unknown {
			d.Screen = value
		}
	case strings.Contains(label, "gpu"):
		d.GPU = value
	case strings.Contains(label, "announced"):
		if year := yearPattern.FindString(value); year != "" {
			d.ReleaseYear = year
		}
	case strings.Contains(label, "price"):
		d.Price = value
	}
}
