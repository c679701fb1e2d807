package llm

import "testing"

func TestParseJSONFields(t *testing.T) {
	fields, err := parseJSONFields(`{"bedrooms": "2"}`)
	if err != nil {
		t.Fatalf("parseJSONFields: %v", err)
	}
	if fields["bedrooms"] != "2" {
		t.Fatalf("bedrooms = %v, want \"2\"", fields["bedrooms"])
	}

	// Salvage a JSON object wrapped in prose.
	fields, err = parseJSONFields("Here you go:\n```json\n{\"sqft\": 850}\n```")
	if err != nil {
		t.Fatalf("parseJSONFields salvage: %v", err)
	}
	if fields["sqft"] != float64(850) {
		t.Fatalf("sqft = %v, want 850", fields["sqft"])
	}

	if _, err := parseJSONFields("no object here"); err == nil {
		t.Fatal("expected error for content without a JSON object")
	}
}

func TestAnyToString(t *testing.T) {
	if got := anyToString("  850 "); got != "850" {
		t.Fatalf("anyToString string = %q", got)
	}
	if got := anyToString(float64(850)); got != "850" {
		t.Fatalf("anyToString float = %q", got)
	}
	if got := anyToString(true); got != "true" {
		t.Fatalf("anyToString bool = %q", got)
	}
	if got := anyToString(nil); got != "" {
		t.Fatalf("anyToString nil = %q", got)
	}
}

func TestAbsolutize(t *testing.T) {
	if got := absolutize("https://example.com/home", "/floorplans/"); got != "https://example.com/floorplans/" {
		t.Fatalf("absolutize relative = %q", got)
	}
	if got := absolutize("https://example.com", "https://other.com/fp"); got != "https://other.com/fp" {
		t.Fatalf("absolutize absolute = %q", got)
	}
	if got := absolutize("https://example.com", ""); got != "" {
		t.Fatalf("absolutize empty = %q", got)
	}
}
