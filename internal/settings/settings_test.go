package settings

import "testing"

func TestDefaultResolutionsAndTTLsAlign(t *testing.T) {
	s := Default()
	if len(s.Downsample.Resolutions) != len(s.Downsample.TTLs) {
		t.Fatalf("resolutions (%d) and ttls (%d) must be the same length", len(s.Downsample.Resolutions), len(s.Downsample.TTLs))
	}
}

func TestDefaultQuerySampleLimitPositive(t *testing.T) {
	s := Default()
	if s.Query.SampleLimit <= 0 {
		t.Fatalf("expected a positive default sample limit, got %d", s.Query.SampleLimit)
	}
}
