package session

import (
	"fmt"
	"io"
	"net/http"
)

// drainLimit caps how much of a discarded response body is read back into
// the connection pool before a retry.
const drainLimit = 1 << 20

var _ http.RoundTripper = (*Transport)(nil)

// Transport is an http.RoundTripper that stamps outbound requests with the
// active session's credentials: the bearer Authorization header always, and
// X-CSRF-Token on state-changing methods when the session carries one.
//
// A 401 response triggers one deduplicated refresh and a single retry with
// the rotated credentials. Requests whose body cannot be replayed (Body set
// but GetBody nil) are not retried. A 401 that survives the retry is treated
// as a revoked token and invalidates the session.
type Transport struct {
	// Manager supplies credentials and absorbs invalid-token signals.
	Manager *Manager

	// Base is the underlying round tripper; http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sess, ok := t.Manager.Current()
	if !ok {
		return t.base().RoundTrip(req)
	}

	authed := req.Clone(req.Context())
	setAuthHeaders(authed, sess)

	resp, err := t.base().RoundTrip(authed)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	refreshed, rerr := t.Manager.Refresh(req.Context())
	if rerr != nil {
		// Session already torn down by the manager; surface the 401.
		return resp, nil
	}

	// Drain before reissuing so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		retry.Body = body
	}
	setAuthHeaders(retry, refreshed)

	resp, err = t.base().RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.Manager.Invalidate()
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func setAuthHeaders(r *http.Request, sess *Session) {
	r.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	if sess.CSRFToken != "" && stateChanging(r.Method) {
		r.Header.Set("X-CSRF-Token", sess.CSRFToken)
	}
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
