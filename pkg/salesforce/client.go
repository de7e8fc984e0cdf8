// Package salesforce provides read-only, JWT-authenticated REST API access to
// the Salesforce objects that make up a sales-cycle snapshot.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/salescycle/internal/resilience"
)

// Client defines the Salesforce API operations used by the snapshot pull.
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

// WithRetry retries queries that fail for transient reasons.
func WithRetry(p resilience.Policy) ClientOption {
	return func(c *sfClient) {
		c.retry = &p
	}
}

// sfClient wraps the go-salesforce/v3 Salesforce struct.
//
// NOTE: go-salesforce/v3 does not accept context.Context. ctx only bounds the
// rate limiter wait and the retry backoff.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
	retry   *resilience.Policy
}

// JWTCreds holds the connected-app settings for the JWT bearer flow.
type JWTCreds struct {
	LoginURL    string
	Username    string
	ConsumerKey string
	PrivateKey  string
}

// Connect authenticates with the JWT bearer flow and returns a Client.
func Connect(creds JWTCreds, opts ...ClientOption) (Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ConsumerKey,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}
	return NewClient(sf, opts...), nil
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

// call runs fn behind the rate limiter, retrying per the client's policy.
func (c *sfClient) call(ctx context.Context, op string, fn func() error) error {
	attempt := func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
		return fn()
	}
	if c.retry == nil {
		return attempt(ctx)
	}
	return resilience.Do(ctx, *c.retry, op, attempt)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	return c.call(ctx, "sf: query", func() error {
		if err := c.sf.Query(soql, out); err != nil {
			return eris.Wrap(err, "sf: query")
		}
		return nil
	})
}

func (c *sfClient) DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error) {
	var desc SObjectDescription
	err := c.call(ctx, "sf: describe", func() error {
		resp, err := c.sf.DoRequest("GET", "/sobjects/"+name+"/describe", nil)
		if err != nil {
			return eris.Wrapf(err, "sf: describe %s", name)
		}
		defer resp.Body.Close() //nolint:errcheck

		desc = SObjectDescription{}
		if err := decodeJSON(resp.Body, &desc); err != nil {
			return eris.Wrapf(err, "sf: decode describe %s", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &desc, nil
}
