package authflow

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prepdeck/go-auth-client/authapi"
)

// CallbackServer receives the provider redirect during command-line sign-in:
// an ephemeral loopback listener that captures one code/state pair and is
// then closed. Register its RedirectURL with the Coordinator.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	results  chan callbackResult
}

type callbackResult struct {
	code  string
	state string
	err   error
}

// NewCallbackServer starts listening on addr, or on an ephemeral loopback
// port when addr is empty.
func NewCallbackServer(addr string) (*CallbackServer, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}

	s := &CallbackServer{
		listener: listener,
		results:  make(chan callbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	s.server = &http.Server{Handler: mux}
	go s.server.Serve(listener)
	return s, nil
}

// RedirectURL is the loopback URL the provider should redirect back to.
func (s *CallbackServer) RedirectURL() string {
	return fmt.Sprintf("http://%s/callback", s.listener.Addr().String())
}

// Wait blocks until the provider redirects back or ctx expires.
func (s *CallbackServer) Wait(ctx context.Context) (code, state string, err error) {
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case result := <-s.results:
		return result.code, result.state, result.err
	}
}

// Close stops the listener. Safe to call after Wait has returned.
func (s *CallbackServer) Close() error {
	return s.server.Close()
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		fmt.Fprintln(w, "Sign-in failed. You can close this window.")
		s.deliver(callbackResult{err: fmt.Errorf("%w: %s", authapi.ErrProvider, errCode)})
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		// Stray request, not a provider callback.
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
	s.deliver(callbackResult{code: code, state: state})
}

// deliver hands over the first result; later callbacks are dropped.
func (s *CallbackServer) deliver(result callbackResult) {
	select {
	case s.results <- result:
	default:
	}
}
