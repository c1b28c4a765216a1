// Package salesforce provides JWT-authenticated, rate-limited read access to
// the Salesforce REST API.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Salesforce API operations the duplicate checker uses.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error)
}

// SObjectField describes a single field on a Salesforce SObject.
type SObjectField struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	Length     int    `json:"length"`
	Updateable bool   `json:"updateable"`
}

// SObjectDescription holds metadata about a Salesforce SObject.
type SObjectDescription struct {
	Name   string         `json:"name"`
	Label  string         `json:"label"`
	Fields []SObjectField `json:"fields"`
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for SF API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient wraps the go-salesforce/v3 Salesforce struct. Every request goes
// through DoRequest with ctx attached, so cancellation and deadlines abort the
// HTTP call itself.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient creates a new Salesforce Client wrapping the given go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// withContext binds the outgoing request to ctx.
func withContext(ctx context.Context) salesforce.RequestOption {
	return func(r *http.Request) {
		*r = *r.WithContext(ctx)
	}
}

// get issues a GET for uri, relative to /services/data/<version>.
func (c *sfClient) get(ctx context.Context, uri string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sf: rate limit")
	}
	resp, err := c.sf.DoRequest(http.MethodGet, uri, nil, withContext(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(resp.Body)
}

type queryPage struct {
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// Query runs soql and decodes every record, across all result pages, into
// out, which must point to a slice.
func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	var records []json.RawMessage
	uri := "/query/?q=" + url.QueryEscape(soql)
	for uri != "" {
		body, err := c.get(ctx, uri)
		if err != nil {
			return eris.Wrap(err, "sf: query")
		}
		var page queryPage
		if err := json.Unmarshal(body, &page); err != nil {
			return eris.Wrap(err, "sf: decode query page")
		}
		records = append(records, page.Records...)

		uri = ""
		if !page.Done {
			uri = nextPageURI(page.NextRecordsURL)
		}
	}
	if out == nil {
		return nil
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return eris.Wrap(err, "sf: collect records")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "sf: decode records")
	}
	return nil
}

// nextPageURI strips the /services/data/<version> prefix Salesforce puts on
// nextRecordsUrl, since DoRequest adds it back.
func nextPageURI(next string) string {
	if i := strings.Index(next, "/query/"); i >= 0 {
		return next[i:]
	}
	return ""
}

func (c *sfClient) DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error) {
	body, err := c.get(ctx, "/sobjects/"+url.PathEscape(name)+"/describe")
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: describe %s", name))
	}

	var desc SObjectDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: decode describe %s", name))
	}
	return &desc, nil
}
