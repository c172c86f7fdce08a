package heal

import "testing"

func TestStatvfsFreeReportsPositiveFreeBytes(t *testing.T) {
	free, err := StatvfsFree("/")
	if err != nil {
		t.Fatalf("StatvfsFree: %v", err)
	}
	if free <= 0 {
		t.Fatalf("expected positive free bytes, got %d", free)
	}
}

func TestFreeMemoryReportsPositiveFreeBytes(t *testing.T) {
	free, err := FreeMemory()
	if err != nil {
		t.Fatalf("FreeMemory: %v", err)
	}
	if free <= 0 {
		t.Fatalf("expected positive free bytes, got %d", free)
	}
}
