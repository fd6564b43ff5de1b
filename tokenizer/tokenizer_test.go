package tokenizer

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeFixture(t *testing.T, specialJSON string) string {
	t.Helper()
	dir := t.TempDir()

	vocab := `{"a":0,"b":1,"c":2,"Ġ":3,"ab":4,"Ġb":5,"<|endoftext|>":6}`
	if err := os.WriteFile(filepath.Join(dir, "vocab.json"), []byte(vocab), 0644); err != nil {
		t.Fatal(err)
	}
	merges := "#version: 0.2\na b\nĠ b\n"
	if err := os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(merges), 0644); err != nil {
		t.Fatal(err)
	}
	if specialJSON != "" {
		if err := os.WriteFile(filepath.Join(dir, "special_tokens.json"), []byte(specialJSON), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestEncode(t *testing.T) {
	tok, err := Load(writeFixture(t, ""))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		text string
		want []int32
	}{
		{"ab", []int32{4}},
		{"ab b", []int32{4, 5}},
		{"abc", []int32{4, 2}},
		{"", nil},
		{"a", []int32{0}},
	}
	for _, tc := range cases {
		if got := tok.Encode(tc.text); !slices.Equal(got, tc.want) {
			t.Errorf("Encode(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDroppedBytesCounted(t *testing.T) {
	tok, err := Load(writeFixture(t, ""))
	if err != nil {
		t.Fatal(err)
	}

	if got := tok.Encode("ab"); !slices.Equal(got, []int32{4}) {
		t.Fatalf("Encode(\"ab\") = %v, want [4]", got)
	}
	if tok.DroppedBytes() != 0 {
		t.Fatalf("dropped %d bytes on fully-covered input", tok.DroppedBytes())
	}

	// The fixture vocab has no entry for "z"; the byte must be counted
	// as dropped, not silently swallowed.
	if got := tok.Encode("az"); !slices.Equal(got, []int32{0}) {
		t.Fatalf("Encode(\"az\") = %v, want [0]", got)
	}
	if tok.DroppedBytes() != 1 {
		t.Errorf("DroppedBytes = %d, want 1", tok.DroppedBytes())
	}

	tok.Encode("zz")
	if tok.DroppedBytes() != 3 {
		t.Errorf("DroppedBytes = %d, want 3 (counter accumulates)", tok.DroppedBytes())
	}
}

func TestSpecialTokenSplitting(t *testing.T) {
	tok, err := Load(writeFixture(t, `{"additional_special_tokens":["<|endoftext|>"]}`))
	if err != nil {
		t.Fatal(err)
	}

	// Registered specials get fresh ids past the vocab, and are matched
	// literally without being split by BPE.
	id, ok := tok.TokenID("<|endoftext|>")
	if !ok {
		t.Fatal("special token not registered")
	}
	if id != 7 {
		t.Fatalf("special token id = %d, want 7", id)
	}

	got := tok.Encode("ab<|endoftext|>ab")
	want := []int32{4, 7, 4}
	if !slices.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestAddSpecialTokens(t *testing.T) {
	tok, err := Load(writeFixture(t, ""))
	if err != nil {
		t.Fatal(err)
	}

	ids := tok.AddSpecialTokens([]string{"<|val0|>", "<|val1|>"})
	if !slices.Equal(ids, []int32{7, 8}) {
		t.Fatalf("sentinel ids = %v, want [7 8]", ids)
	}

	// Re-adding keeps the original ids.
	again := tok.AddSpecialTokens([]string{"<|val1|>"})
	if !slices.Equal(again, []int32{8}) {
		t.Fatalf("re-added sentinel ids = %v, want [8]", again)
	}

	if got := tok.SpecialTokens(); !slices.Equal(got, []string{"<|val0|>", "<|val1|>"}) {
		t.Fatalf("special tokens = %v", got)
	}
}

func TestSaveRoundtrip(t *testing.T) {
	tok, err := Load(writeFixture(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	tok.AddSpecialTokens([]string{"<|val0|>", "<|val1|>"})

	out := filepath.Join(t.TempDir(), "saved")
	if err := tok.Save(out); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(out)
	if err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"ab", "ab b", "ab<|val0|>c"} {
		if got, want := reloaded.Encode(text), tok.Encode(text); !slices.Equal(got, want) {
			t.Errorf("reloaded Encode(%q) = %v, want %v", text, got, want)
		}
	}
	if got := reloaded.SpecialTokens(); !slices.Equal(got, []string{"<|val0|>", "<|val1|>"}) {
		t.Errorf("reloaded specials = %v", got)
	}
}

func TestInsertsBoundaryTokens(t *testing.T) {
	plain, err := Load(writeFixture(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if plain.InsertsBoundaryTokens() {
		t.Error("plain tokenizer should not insert boundary tokens")
	}

	withEOS, err := Load(writeFixture(
		t,
		`{"eos_token":"<|endoftext|>","add_eos_token":true,"additional_special_tokens":["<|endoftext|>"]}`,
	))
	if err != nil {
		t.Fatal(err)
	}
	if !withEOS.InsertsBoundaryTokens() {
		t.Error("eos-appending tokenizer should report boundary insertion")
	}
}
