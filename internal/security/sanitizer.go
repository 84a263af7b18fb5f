// Package security はチャットに送信するHTMLのサニタイズを提供する。
//
// TelegramのHTMLパースモードが解釈できるタグは限られており、
// 未対応のタグを含むメッセージは送信自体が失敗する。
// bluemondayの許可リストでTelegramが受け付けるタグだけを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はTelegram向けのHTMLサニタイズ機能のインターフェースを定義する。
type Sanitizer interface {
	// Sanitize はTelegramが解釈できるタグ（b, strong, i, em, u, s, code, pre, blockquote, a）
	// のみを残し、それ以外のタグと属性を除去する。
	Sanitize(rawHTML string) string
	// StripTags はすべてのタグを除去する。ユーザー入力をメッセージに埋め込む際に使用する。
	StripTags(text string) string
}

type telegramSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewTelegramSanitizer はSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: b, strong, i, em, u, ins, s, strike, del, code, pre, blockquote
//   - aタグ: http/https/tgスキームのhrefのみ
//   - preタグ内のcodeはclass属性（言語指定）を許可
func NewTelegramSanitizer() Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"b", "strong", "i", "em", "u", "ins",
		"s", "strike", "del",
		"code", "pre", "blockquote",
	)
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg")
	p.AllowRelativeURLs(false)

	return &telegramSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

func (s *telegramSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

func (s *telegramSanitizer) StripTags(text string) string {
	return s.strict.Sanitize(text)
}
