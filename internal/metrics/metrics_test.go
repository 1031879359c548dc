package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersNormalizeLabels(t *testing.T) {
	before := testutil.ToFloat64(submissionsTotal.WithLabelValues("accepted"))
	IncSubmission(" Accepted ")
	if got := testutil.ToFloat64(submissionsTotal.WithLabelValues("accepted")); got != before+1 {
		t.Fatalf("accepted = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(artifactRetrievalsTotal.WithLabelValues("not_found"))
	IncRetrieval("NOT_FOUND")
	if got := testutil.ToFloat64(artifactRetrievalsTotal.WithLabelValues("not_found")); got != before+1 {
		t.Fatalf("not_found = %v, want %v", got, before+1)
	}
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	MustRegister()
	MustRegister()
	ObservePollLatency(10 * time.Millisecond)
	if n := testutil.CollectAndCount(pollLatency); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}
