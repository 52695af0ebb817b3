package verification

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/model"
)

const (
	maxSources        = 5
	minExplanationLen = 20
)

var validate = validator.New()

func validateVerdict(v model.VerdictKind) error {
	if !v.Valid() {
		return apperr.ErrInvalidVerdict.Withf("unknown verdict %q", string(v))
	}
	return nil
}

// normalizeSources trims every source, drops blank entries, and checks that
// between 1 and maxSources absolute http(s) URLs remain.
func normalizeSources(sources []string) ([]string, error) {
	out := make([]string, 0, len(sources))
	for i, raw := range sources {
		src := strings.TrimSpace(raw)
		if src == "" {
			continue
		}
		if err := validate.Var(src, "required,url"); err != nil {
			return nil, apperr.ErrInvalidSources.Withf("source %d is not a valid URL", i+1)
		}
		u, err := url.Parse(src)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperr.ErrInvalidSources.Withf("source %d must be an http or https URL", i+1)
		}
		out = append(out, src)
	}

	if len(out) == 0 || len(out) > maxSources {
		return nil, apperr.ErrInvalidSources.Withf("between 1 and %d sources are required, got %d", maxSources, len(out))
	}
	return out, nil
}

// normalizeExplanation trims and NFC-normalizes the text, then counts
// characters rather than bytes.
func normalizeExplanation(explanation string) (string, error) {
	text := norm.NFC.String(strings.TrimSpace(explanation))
	if n := utf8.RuneCountInString(text); n < minExplanationLen {
		return "", apperr.ErrExplanationTooShort.Withf("explanation must be at least %d characters, got %d", minExplanationLen, n)
	}
	return text, nil
}
