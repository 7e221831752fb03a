package patrimoine

import (
	"encoding/json"
	"testing"
)

func TestJsonObjectWriter(t *testing.T) {
	w := &jsonObjectWriter{}
	w.Append("nom", "AIR LIQUIDE").
		Append("valeur", EUR(862.40)).
		Optional("ticker", "").        // zero string, omitted
		Optional("quantite", Q(0)).    // zero quantity, omitted
		Optional("prix", EUR(172.48)). // non-zero, kept
		Optional("solde", EUR(0))      // zero money, omitted

	got, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"nom":"AIR LIQUIDE","valeur":862.4,"prix":172.48}`
	if string(got) != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestJsonObjectWriter_Empty(t *testing.T) {
	got, err := json.Marshal(&jsonObjectWriter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("got %s, want {}", got)
	}
}
