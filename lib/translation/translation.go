package translation

import (
	"github.com/leonelquinteros/gotext"
)

// Configure loads the "default" domain for lang from the locales directory.
// Messages without a translation fall back to the English message ID.
func Configure(localesDir, lang string) {
	gotext.Configure(localesDir, lang, "default")
}

func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
