package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

//go:embed locales/*.json
var localesFS embed.FS

const DefaultLang = "en"

var supported = []string{"en", "fr"}

// translations is filled once at init from the embedded dictionaries and
// only read afterwards.
var translations = mustLoad()

func mustLoad() map[string]map[string]string {
	t, err := load()
	if err != nil {
		panic(err)
	}
	return t
}

func load() (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(supported))
	for _, lang := range supported {
		data, err := localesFS.ReadFile(fmt.Sprintf("locales/%s.json", lang))
		if err != nil {
			return nil, err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("locale %s: %w", lang, err)
		}
		out[lang] = t
	}
	return out, nil
}

func T(lang, key string) string {
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

func DetectLanguage(r *http.Request) string {
	// e.g. "fr-CH, fr;q=0.9, en;q=0.8, de;q=0.7, *;q=0.5"
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return DefaultLang
	}
	for _, part := range strings.Split(accept, ",") {
		lang := strings.TrimSpace(strings.Split(part, ";")[0])
		if len(lang) >= 2 {
			lang = strings.ToLower(lang[:2])
			if _, ok := translations[lang]; ok {
				return lang
			}
		}
	}
	return DefaultLang
}
