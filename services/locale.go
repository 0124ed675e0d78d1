package services

import (
	"context"

	"golang.org/x/text/language"
)

type localeKey struct{}

// WithLocale attaches the acting user's language to ctx. Remote calls made
// with ctx send it as Accept-Language.
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey{}, tag)
}

// LocaleFromContext returns the language attached to ctx, or English.
func LocaleFromContext(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(localeKey{}).(language.Tag); ok {
		return tag
	}
	return language.English
}

// ParseLocale turns a host language code ("fr", "pt_br") into a tag,
// falling back to English.
func ParseLocale(lang string) language.Tag {
	if lang == "" {
		return language.English
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	return tag
}
