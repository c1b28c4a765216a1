package salesforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient is a scripted Client for the query builder tests.
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

func TestWithRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		wantNil   bool
		wantBurst int
	}{
		{name: "whole rate", rps: 10, wantBurst: 10},
		{name: "fractional rate bursts once", rps: 0.5, wantBurst: 1},
		{name: "zero disables limiting", rps: 0, wantNil: true},
		{name: "negative disables limiting", rps: -3, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(nil, WithRateLimit(tt.rps)).(*sfClient)
			if tt.wantNil {
				assert.Nil(t, c.limiter)
				return
			}
			require.NotNil(t, c.limiter)
			assert.Equal(t, rate.Limit(tt.rps), c.limiter.Limit())
			assert.Equal(t, tt.wantBurst, c.limiter.Burst())
		})
	}
}

func TestSFClient_RateLimitHonoursContext(t *testing.T) {
	c := &sfClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Query(ctx, "SELECT Id FROM Lead", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")

	_, err = c.DescribeSObject(ctx, "Lead")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
}

func TestNextPageURI(t *testing.T) {
	assert.Equal(t, "/query/01gD0000002HU6KIAW-2000", nextPageURI("/services/data/v63.0/query/01gD0000002HU6KIAW-2000"))
	assert.Equal(t, "/query/01g-4000", nextPageURI("/query/01g-4000"))
	assert.Empty(t, nextPageURI(""))
	assert.Empty(t, nextPageURI("/services/data/v63.0/sobjects"))
}
