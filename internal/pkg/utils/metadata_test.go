package utils

import (
	"testing"
)

func TestParseUploadMetadata(t *testing.T) {
	header := "filename ZmlsZS50eHQ=,filetype dGV4dC9wbGFpbg==,empty"
	meta := ParseUploadMetadata(header)

	if got := meta["filename"]; got != "file.txt" {
		t.Errorf("filename = %q, want %q", got, "file.txt")
	}
	if got := meta["filetype"]; got != "text/plain" {
		t.Errorf("filetype = %q, want %q", got, "text/plain")
	}
	if got, ok := meta["empty"]; !ok || got != "" {
		t.Errorf("empty = %q (present=%v), want empty string", got, ok)
	}
}

func TestParseUploadMetadataInvalidEntries(t *testing.T) {
	header := "valid dmFsdWU=,bad !!!notbase64!!!,too many parts here"
	meta := ParseUploadMetadata(header)

	if got := meta["valid"]; got != "value" {
		t.Errorf("valid = %q, want %q", got, "value")
	}
	if _, ok := meta["bad"]; ok {
		t.Error("entry with invalid base64 value should be skipped")
	}
	if _, ok := meta["too"]; ok {
		t.Error("entry with more than two parts should be skipped")
	}
}

func TestSerializeUploadMetadataRoundTrip(t *testing.T) {
	meta := map[string]string{
		"filename": "报告.pdf",
		"filetype": "application/pdf",
	}

	header := SerializeUploadMetadata(meta)
	parsed := ParseUploadMetadata(header)

	if len(parsed) != len(meta) {
		t.Fatalf("parsed %d entries, want %d", len(parsed), len(meta))
	}
	for k, v := range meta {
		if parsed[k] != v {
			t.Errorf("key %q = %q, want %q", k, parsed[k], v)
		}
	}
}

func TestSerializeUploadMetadataStableOrder(t *testing.T) {
	meta := map[string]string{"b": "2", "a": "1", "c": "3"}

	first := SerializeUploadMetadata(meta)
	for i := 0; i < 10; i++ {
		if got := SerializeUploadMetadata(meta); got != first {
			t.Fatalf("serialization not stable: %q vs %q", got, first)
		}
	}
}
