package agent

import (
	"fmt"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for context-budget enforcement.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}

// TiktokenTokenizer 基于 tiktoken 的精确计数, 编码懒加载.
type TiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewTiktokenTokenizer creates a tiktoken-backed tokenizer. The encoding is
// loaded on first use; cl100k_base is used when encoding is empty.
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// EstimatorTokenizer 字符数估算器, 区分 CJK 与 ASCII 字符.
// 在 tiktoken 编码数据不可用的离线环境中充当后备.
type EstimatorTokenizer struct{}

func (EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjkCount++
		}
	}

	// CJK 约 1.5 字符/token, ASCII 约 4 字符/token
	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

// fallbackTokenizer tries tiktoken first and falls back to the estimator
// when the encoding cannot be initialized.
type fallbackTokenizer struct {
	primary   *TiktokenTokenizer
	estimator EstimatorTokenizer
}

// NewDefaultTokenizer returns a tokenizer that prefers tiktoken and degrades
// to the CJK-aware estimator when encoding data is unavailable.
func NewDefaultTokenizer() Tokenizer {
	return &fallbackTokenizer{primary: NewTiktokenTokenizer("")}
}

func (t *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := t.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return t.estimator.CountTokens(text)
}
