package cache

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"What is the capital of France?", "what is the capital of france"},
		{"  WHAT    is the capital of FRANCE", "what is the capital of france"},
		{"what, is the capital... of france!!", "what is the capital of france"},
		{"Ｗｈａｔ ｉｓ ｔｈｅ ｃａｐｉｔａｌ ｏｆ Ｆｒａｎｃｅ？", "what is the capital of france"},
		{"", ""},
		{"???", ""},
		{"comment ça va", "comment ça va"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestKeyEquivalence(t *testing.T) {
	a := Key("What is the capital of France?")
	b := Key("  what is THE capital of france ")
	if a != b {
		t.Errorf("equivalent questions produced different keys: %s vs %s", a, b)
	}

	c := Key("What is the capital of Germany?")
	if a == c {
		t.Error("distinct questions produced the same key")
	}

	if len(a) != 32 {
		t.Errorf("key length = %d, want 32", len(a))
	}
}

func TestKeyDeterministic(t *testing.T) {
	question := "How tall is Mount Everest?"
	if Key(question) != Key(question) {
		t.Error("key generation is not deterministic")
	}
}
