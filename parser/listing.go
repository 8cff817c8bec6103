// Package parser turns catalog markup into device records and applies the
// normalisation and completeness rules. Nothing here touches the network.
package parser

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-phones/models"
)

// ErrListingContainerMissing is returned when a listing page has no primary
// listing container.
var ErrListingContainerMissing = errors.New("parser: listing container not found")

// Listing is one parsed brand listing page.
type Listing struct {
	Candidates []models.Candidate
	// NextURL is empty on the last page.
	NextURL string
}

// ParseListing extracts detail links from the container matched by
// containerSel, in document order, and the next page link matched by nextSel.
func ParseListing(body io.Reader, pageURL *url.URL, containerSel, nextSel string) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return &Listing{}, fmt.Errorf("parse listing html: %w", err)
	}

	container := doc.Find(containerSel).First()
	if container.Length() == 0 {
		return &Listing{}, ErrListingContainerMissing
	}

	listing := &Listing{}
	container.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, ".php") {
			return
		}
		abs := resolve(pageURL, href)
		if abs == "" {
			return
		}
		label := strings.TrimSpace(a.Find("strong").First().Text())
		if label == "" {
			label = strings.TrimSpace(a.Text())
		}
		listing.Candidates = append(listing.Candidates, models.Candidate{URL: abs, Label: label})
	})

	if nextSel != "" {
		if href, ok := doc.Find(nextSel).First().Attr("href"); ok {
			listing.NextURL = resolve(pageURL, href)
		}
	}
	return listing, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
