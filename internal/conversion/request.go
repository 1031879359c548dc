package conversion

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Request holds the validated parameters of one conversion attempt.
type Request struct {
	SourceURL  string   `json:"url"`
	Credential string   `json:"-"`
	Extensions []string `json:"extensions"`
}

// Build validates the raw form input and returns a normalized Request.
// An empty credential is treated as absent.
func Build(sourceURL, credential string, extensions []string) (Request, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return Request{}, &ValidationError{Field: "url", Reason: "source url is required"}
	}
	if err := validate.Var(sourceURL, "url"); err != nil {
		return Request{}, &ValidationError{Field: "url", Reason: "source url is not a valid url"}
	}
	return Request{
		SourceURL:  sourceURL,
		Credential: strings.TrimSpace(credential),
		Extensions: NormalizeExtensions(extensions),
	}, nil
}

// HasCredential reports whether an access credential will be transmitted.
func (r Request) HasCredential() bool { return r.Credential != "" }

// WithoutCredential returns a copy of the request safe to keep after submission.
func (r Request) WithoutCredential() Request {
	out := r
	out.Credential = ""
	out.Extensions = append([]string(nil), r.Extensions...)
	return out
}

// NormalizeExtensions prefixes every filter with "." and collapses duplicates,
// keeping the first-seen order.
func NormalizeExtensions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.TrimSpace(ext)
		if e == "" || e == "." {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
