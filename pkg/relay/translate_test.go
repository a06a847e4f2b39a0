package relay

import (
	"strings"
	"testing"
)

func Test_Translate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		host string
		want string
	}{
		{
			name: "token missing",
			raw:  "gateway token missing",
			host: "example.com",
			want: "Invalid or missing token. Visit https://example.com?token={REPLACE_WITH_YOUR_TOKEN}",
		},
		{
			name: "token mismatch",
			raw:  "error: gateway token mismatch on connect",
			host: "example.com",
			want: "Invalid or missing token. Visit https://example.com?token={REPLACE_WITH_YOUR_TOKEN}",
		},
		{
			name: "pairing required",
			raw:  "pairing required before use",
			host: "molt.example.org",
			want: "Pairing required. Visit https://molt.example.org/_admin/",
		},
		{
			name: "no match returns input unchanged",
			raw:  "bye",
			host: "example.com",
			want: "bye",
		},
		{
			name: "case sensitive",
			raw:  "Gateway Token Missing",
			host: "example.com",
			want: "Gateway Token Missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Translate(tt.raw, tt.host); got != tt.want {
				t.Errorf("Translate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func Test_RewriteErrorFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{
			name:  "token missing is rewritten",
			frame: `{"error":{"message":"gateway token missing"}}`,
			want:  `{"error":{"message":"Invalid or missing token. Visit https://example.com?token={REPLACE_WITH_YOUR_TOKEN}"}}`,
		},
		{
			name:  "no error field passes through byte-for-byte",
			frame: `{ "data": {"x": 1},  "y": "z" }`,
			want:  `{ "data": {"x": 1},  "y": "z" }`,
		},
		{
			name:  "error without message passes through byte-for-byte",
			frame: `{"error":{"code":42}}`,
			want:  `{"error":{"code":42}}`,
		},
		{
			name:  "non-string message passes through byte-for-byte",
			frame: `{"error":{"message":17}}`,
			want:  `{"error":{"message":17}}`,
		},
		{
			name:  "unmatched message keeps original formatting",
			frame: `{ "error": {"message": "something else"}, "id": 3 }`,
			want:  `{ "error": {"message": "something else"}, "id": 3 }`,
		},
		{
			name:  "malformed JSON passes through byte-for-byte",
			frame: `{not json`,
			want:  `{not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rewriteErrorFrame([]byte(tt.frame), "example.com")
			if string(got) != tt.want {
				t.Errorf("rewriteErrorFrame(%q) = %q, want %q", tt.frame, got, tt.want)
			}
		})
	}
}

func Test_RewriteErrorFrame_PreservesSiblingFields(t *testing.T) {
	frame := `{"error":{"message":"pairing required","code":7}}`
	got := string(rewriteErrorFrame([]byte(frame), "h"))

	if !strings.Contains(got, `"code":7`) {
		t.Errorf("sibling field dropped: %s", got)
	}
	if !strings.Contains(got, "/_admin/") {
		t.Errorf("message not translated: %s", got)
	}
}

func Test_TruncateCloseReason(t *testing.T) {
	long := strings.Repeat("x", 200)

	got := truncateCloseReason(long)
	if len(got) != 123 {
		t.Errorf("expected 123 bytes, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got[len(got)-3:])
	}
	if got[:120] != long[:120] {
		t.Errorf("expected first 120 characters preserved")
	}

	if got := truncateCloseReason("bye"); got != "bye" {
		t.Errorf("short reason changed: %q", got)
	}
	exact := strings.Repeat("y", 123)
	if got := truncateCloseReason(exact); got != exact {
		t.Errorf("123-byte reason changed: %q", got)
	}
}
