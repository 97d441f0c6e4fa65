package core

import "context"

// LanguageInfo describes the detected language of a user message. The RTL
// flag is presentation-only; it never affects retrieval or prompts.
type LanguageInfo struct {
	Code  string `json:"code"`
	IsRTL bool   `json:"is_rtl"`
}

var rtlLanguages = map[string]bool{
	"ar": true, // Arabic
	"he": true, // Hebrew
	"fa": true, // Persian
	"ur": true, // Urdu
	"yi": true, // Yiddish
	"dv": true, // Divehi
}

func detectLanguageInfo(ctx context.Context, llm LanguageModel, text string) LanguageInfo {
	code := llm.DetectLanguage(ctx, text)
	return LanguageInfo{Code: code, IsRTL: rtlLanguages[code]}
}
