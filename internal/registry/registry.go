// Package registry implements C7: the public TTB COLA registry client.
// It submits a form-encoded brand lookup, parses the HTML results
// table, and infers an approximate ABV from each record's class
// description via the ordered substring table in abvtable.go. Per spec
// §4.4/§7, every failure mode — transport error, malformed HTML, empty
// results — degrades to an empty result set; callers never see a hard
// error from a registry miss. A circuit breaker guards against a
// downed registry serializing every cache miss behind a full HTTP
// timeout.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html"

	"github.com/ttbverify/labelverify/pkg/models"
)

// Client queries the public TTB COLA registry.
type Client struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// New builds a registry Client with a circuit breaker around the HTTP
// round trip: after 5 consecutive failures it opens for 30s, then
// allows a single trial request (half-open) before fully closing.
func New(endpoint string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "ttb-registry",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("registry circuit breaker state change")
		},
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// LookupBrand queries the registry for a brand name, defaulting to a
// 12-month date window per spec §4.4. Any failure — transport,
// breaker-open, malformed HTML — returns a nil slice; there is no
// error return: the cache treats a registry miss the same as
// "nothing found".
func (c *Client) LookupBrand(ctx context.Context, brand string) []models.RegistryRecord {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchAndParse(ctx, brand)
	})
	if err != nil {
		log.Warn().Err(err).Str("brand", brand).Msg("registry lookup degraded to miss")
		return nil
	}
	records, _ := result.([]models.RegistryRecord)
	return records
}

func (c *Client) fetchAndParse(ctx context.Context, brand string) ([]models.RegistryRecord, error) {
	form := url.Values{}
	form.Set("searchCriteria.brandName", brand)
	form.Set("searchCriteria.dateCompletedFrom", time.Now().AddDate(-1, 0, 0).Format("01/02/2006"))
	form.Set("searchCriteria.dateCompletedTo", time.Now().Format("01/02/2006"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return parseResultsTable(doc), nil
}

// parseResultsTable walks the parsed HTML tree looking for <tr> rows
// whose <td> columns match the registry's fixed layout: TTB id,
// permit, serial, completed date, fanciful name, brand, origin code,
// origin description, class code, class description. Rows with an
// unexpected column count are skipped rather than trusted positionally
// into the wrong field.
func parseResultsTable(doc *html.Node) []models.RegistryRecord {
	var records []models.RegistryRecord

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			cols := tableRowColumns(n)
			if rec, ok := parseRow(cols); ok {
				records = append(records, rec)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return records
}

func tableRowColumns(tr *html.Node) []string {
	var cols []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cols = append(cols, strings.TrimSpace(textContent(c)))
		}
	}
	return cols
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

const expectedColumns = 10

func parseRow(cols []string) (models.RegistryRecord, bool) {
	if len(cols) != expectedColumns {
		return models.RegistryRecord{}, false
	}

	completed, err := time.Parse("01/02/2006", cols[3])
	if err != nil {
		return models.RegistryRecord{}, false
	}

	rec := models.RegistryRecord{
		TTBID:         cols[0],
		Permit:        cols[1],
		Serial:        cols[2],
		CompletedDate: completed,
		FancifulName:  cols[4],
		Brand:         cols[5],
		OriginCode:    cols[6],
		OriginDesc:    cols[7],
		ClassCode:     cols[8],
		ClassDesc:     cols[9],
	}
	if abv, ok := InferABV(rec.ClassDesc); ok {
		rec.InferredABV = &abv
	}
	return rec, true
}

// Ping issues a lightweight request to verify the registry endpoint is
// reachable, used by the health check.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("registry: build ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry: ping: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
