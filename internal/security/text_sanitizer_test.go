package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlainText_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "タグが除去される",
			input: "<p>Go<strong>入門</strong></p>",
			want:  "Go入門",
		},
		{
			name:  "scriptタグは中身ごと除去される",
			input: "講座<script>alert('xss')</script>紹介",
			want:  "講座紹介",
		},
		{
			name:  "イベント属性を持つタグも除去される",
			input: `<img src="x" onerror="alert(1)">画像付き`,
			want:  "画像付き",
		},
		{
			name:  "エンティティは元の文字に戻る",
			input: "Tom &amp; Jerry&#39;s <b>&lt;Go&gt;</b>",
			want:  "Tom & Jerry's <Go>",
		},
		{
			name:  "改行と連続空白は1つの空白にまとまる",
			input: "  第1章\n\n  基礎   文法\t",
			want:  "第1章 基礎 文法",
		},
		{
			name:  "空文字列",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.PlainText(tt.input, 0)
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlainText_TruncatesByRunes(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := strings.Repeat("講", MaxProductNameLength+20)
	got := sanitizer.PlainText(input, MaxProductNameLength)

	if n := utf8.RuneCountInString(got); n != MaxProductNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxProductNameLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated text must remain valid UTF-8")
	}
}

func TestPlainText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := "<h1>Go &amp; Docker</h1>\n<p>実践講座</p>"
	first := sanitizer.PlainText(input, MaxProductDescriptionLength)
	second := sanitizer.PlainText(first, MaxProductDescriptionLength)

	if first != second {
		t.Errorf("PlainText is not idempotent: %q then %q", first, second)
	}
}
