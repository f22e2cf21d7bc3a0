package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prepdeck/go-auth-client/authapi"
)

// apiError carries a non-2xx response until the calling endpoint maps it
// onto the taxonomy.
type apiError struct {
	status int
	body   authapi.ErrorBody
}

func (e *apiError) Error() string {
	if e.body.Detail != "" {
		return fmt.Sprintf("%s (status %d)", e.body.Detail, e.status)
	}
	return fmt.Sprintf("unexpected status %d", e.status)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err == nil {
		// A non-JSON body (proxy HTML, empty) just leaves Detail blank.
		json.Unmarshal(data, &apiErr.body)
	}
	return apiErr
}

// sentinelOr maps a failed call onto the taxonomy: the server's machine code
// wins when present, then the endpoint's status fallback, then the generic
// rules (5xx is a network-class failure, 401 a generic rejection). Transport
// errors arrive already wrapped and pass through.
func sentinelOr(err error, fallback map[int]error) error {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return err
	}
	if s, ok := authapi.SentinelForCode(apiErr.body.Code); ok {
		return fmt.Errorf("%w: %s", s, apiErr.Error())
	}
	if s, ok := fallback[apiErr.status]; ok {
		return fmt.Errorf("%w: %s", s, apiErr.Error())
	}
	if apiErr.status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", authapi.ErrNetwork, apiErr.Error())
	}
	if apiErr.status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", authapi.ErrUnauthorized, apiErr.Error())
	}
	return apiErr
}
