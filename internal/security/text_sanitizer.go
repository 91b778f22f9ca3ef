// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は講師が入力した講座タイトルや説明文から
// HTMLを除去し、決済事業者のホスト画面に表示できるプレーンテキストに変換する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxProductNameLength は商品名として送る文字数の上限。
	MaxProductNameLength = 250
	// MaxProductDescriptionLength は商品説明として送る文字数の上限。
	MaxProductDescriptionLength = 500
)

// TextSanitizerService はプレーンテキスト化の機能のインターフェースを定義する。
type TextSanitizerService interface {
	// PlainText は全てのHTMLタグを除去し、連続する空白を1つにまとめ、
	// maxRunes文字を超える場合は末尾を切り詰めて返す。
	// maxRunesが0以下の場合は切り詰めない。
	PlainText(raw string, maxRunes int) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyは全てのタグを除去し、テキストのみを残す。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// PlainText はHTMLを除去したプレーンテキストを返す。
func (s *textSanitizer) PlainText(raw string, maxRunes int) string {
	// StrictPolicyは本文中の記号をエスケープするため、表示用に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return text
}
