package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalTrackerDirectResolution(t *testing.T) {
	tr := NewProposalTracker()
	tr.Track("p1", Request{Method: "tools/call"}, time.Unix(0, 0))

	p, ok := tr.ResolveByResponseCorrelation("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)

	_, ok = tr.ResolveByResponseCorrelation("p1")
	assert.False(t, ok)
}

func TestProposalTrackerFulfillmentResolution(t *testing.T) {
	tr := NewProposalTracker()
	tr.Track("p1", Request{Method: "tools/call"}, time.Unix(0, 0))

	assert.True(t, tr.ObserveFulfillment("p1", "fulfill-env-1"))

	p, ok := tr.ResolveByResponseCorrelation("fulfill-env-1")
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "fulfill-env-1", p.FulfillmentID)
}

func TestProposalTrackerUnknownFulfillment(t *testing.T) {
	tr := NewProposalTracker()
	assert.False(t, tr.ObserveFulfillment("missing", "env-1"))
}
