package salesforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/salescycle/internal/resilience"
)

// mockClient answers Query and DescribeSObject through the configured funcs.
type mockClient struct {
	queryFn           func(ctx context.Context, soql string, out any) error
	describeSObjectFn func(ctx context.Context, name string) (*SObjectDescription, error)
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error) {
	if m.describeSObjectFn != nil {
		return m.describeSObjectFn(ctx, name)
	}
	return &SObjectDescription{Name: name, Label: name}, nil
}

var (
	_ Client = (*mockClient)(nil)
	_ Client = (*sfClient)(nil)
)

func TestNewClient_Options(t *testing.T) {
	tests := []struct {
		name      string
		opts      []ClientOption
		limit     rate.Limit
		burst     int
		noLimiter bool
		retry     bool
	}{
		{name: "defaults", noLimiter: true},
		{name: "integer rate", opts: []ClientOption{WithRateLimit(10)}, limit: 10, burst: 10},
		{name: "fractional rate", opts: []ClientOption{WithRateLimit(0.5)}, limit: 0.5, burst: 1},
		{name: "zero rate", opts: []ClientOption{WithRateLimit(0)}, noLimiter: true},
		{name: "negative rate", opts: []ClientOption{WithRateLimit(-5)}, noLimiter: true},
		{
			name:      "retry only",
			opts:      []ClientOption{WithRetry(resilience.Policy{Attempts: 4})},
			noLimiter: true,
			retry:     true,
		},
		{
			name:  "rate and retry",
			opts:  []ClientOption{WithRateLimit(5), WithRetry(resilience.DefaultPolicy())},
			limit: 5,
			burst: 5,
			retry: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := NewClient(nil, tt.opts...).(*sfClient)
			require.True(t, ok)

			if tt.noLimiter {
				assert.Nil(t, c.limiter)
			} else {
				require.NotNil(t, c.limiter)
				assert.Equal(t, tt.limit, c.limiter.Limit())
				assert.Equal(t, tt.burst, c.limiter.Burst())
			}
			assert.Equal(t, tt.retry, c.retry != nil)
		})
	}
}

func TestWithRetry_CopiesPolicy(t *testing.T) {
	p := resilience.Policy{Attempts: 2}
	c := NewClient(nil, WithRetry(p)).(*sfClient)
	p.Attempts = 9

	require.NotNil(t, c.retry)
	assert.Equal(t, 2, c.retry.Attempts)
}

func TestWait_CancelledContext(t *testing.T) {
	c := &sfClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.wait(ctx))
}

func TestWait_NoLimiter(t *testing.T) {
	c := &sfClient{}
	assert.NoError(t, c.wait(context.Background()))
}
