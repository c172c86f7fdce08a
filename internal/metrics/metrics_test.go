package metrics

import "testing"

func TestRecordRateLimitDenialGathered(t *testing.T) {
	c := New()
	c.RecordRateLimitDenial("exec")
	c.RecordRateLimitDenial("exec")
	c.RecordRateLimitDenial("restore")

	samples, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]float64{}
	for _, s := range samples {
		if s.Name == "masterclaw_rate_limit_denials_total" {
			found[s.Labels["category"]] = s.Value
		}
	}
	if found["exec"] != 2 {
		t.Fatalf("expected exec denials=2, got %v", found["exec"])
	}
	if found["restore"] != 1 {
		t.Fatalf("expected restore denials=1, got %v", found["restore"])
	}
}

func TestSetCircuitStateOrdinals(t *testing.T) {
	c := New()
	c.SetCircuitState("gateway", "open")
	c.SetCircuitState("docker", "half-open")
	c.SetCircuitState("db", "closed")

	samples, err := c.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, s := range samples {
		if s.Name == "masterclaw_circuit_state" {
			got[s.Labels["name"]] = s.Value
		}
	}
	if got["gateway"] != 2 {
		t.Fatalf("expected gateway=2 (open), got %v", got["gateway"])
	}
	if got["docker"] != 1 {
		t.Fatalf("expected docker=1 (half-open), got %v", got["docker"])
	}
	if got["db"] != 0 {
		t.Fatalf("expected db=0 (closed), got %v", got["db"])
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordRateLimitDenial("exec")
	c.SetCircuitState("gateway", "open")
}
