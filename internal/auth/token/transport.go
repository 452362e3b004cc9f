package token

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// formParamTransport adds parameters to password-grant token requests.
// oauth2.Config.PasswordCredentialsToken has no hook for extra form values,
// and IdPs such as Auth0 need "audience" there to issue an API token.
// Parameters already present in the request are left alone.
type formParamTransport struct {
	base   http.RoundTripper
	params url.Values
}

func newFormParamTransport(base http.RoundTripper, params url.Values) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if len(params) == 0 {
		return base
	}
	return &formParamTransport{base: base, params: params}
}

func (t *formParamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return t.base.RoundTrip(req)
	}

	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil || form.Get("grant_type") != "password" {
		return t.base.RoundTrip(withBody(req, raw))
	}

	for key, values := range t.params {
		if form.Get(key) == "" {
			form[key] = values
		}
	}

	return t.base.RoundTrip(withBody(req, []byte(form.Encode())))
}

// withBody clones req with a replacement body; RoundTrippers must not
// modify the request they were given.
func withBody(req *http.Request, body []byte) *http.Request {
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return out
}
