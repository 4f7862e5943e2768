package federated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// LoopbackFlow is a ConsentFlow for native and CLI applications: it listens
// on a loopback address registered as the provider redirect URL, hands the
// consent URL to OpenURL (typically a browser launcher), and waits for the
// provider to redirect back with the authorization code.
type LoopbackFlow struct {
	// Addr is the loopback listen address, e.g. "127.0.0.1:8453". It must
	// match the host/port of the registered redirect URL.
	Addr string

	// Path is the redirect path. Defaults to "/callback".
	Path string

	// OpenURL presents the consent URL to the user. A returned error
	// aborts the flow.
	OpenURL func(url string) error

	// OnListen, when set, receives the bound listener address before the
	// consent URL is opened. Lets callers (and tests) resolve a ":0" port.
	OnListen func(addr string)

	Logger *slog.Logger
}

type consentResult struct {
	code string
	err  error
}

// Obtain runs the loopback exchange. Redirects whose state does not match
// are ignored; a provider error of access_denied and a cancelled context
// both surface as ErrConsentDismissed.
func (f *LoopbackFlow) Obtain(ctx context.Context, authURL, state string) (string, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := f.Path
	if path == "" {
		path = "/callback"
	}

	listener, err := net.Listen("tcp", f.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", f.Addr, err)
	}
	defer listener.Close()

	results := make(chan consentResult, 1)
	var once sync.Once
	deliver := func(res consentResult) {
		once.Do(func() { results <- res })
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if query.Get("state") != state {
			logger.Warn("consent redirect with mismatched state ignored")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		if errCode := query.Get("error"); errCode != "" {
			fmt.Fprintln(w, "Sign-in was cancelled. You can close this window.")
			if errCode == "access_denied" {
				deliver(consentResult{err: ErrConsentDismissed})
			} else {
				deliver(consentResult{err: fmt.Errorf("federated: consent failed: %s", errCode)})
			}
			return
		}

		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(consentResult{err: errors.New("federated: redirect without code")})
			return
		}

		fmt.Fprintln(w, "Signed in. You can close this window.")
		deliver(consentResult{code: code})
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(consentResult{err: err})
		}
	}()
	defer server.Close()

	if f.OnListen != nil {
		f.OnListen(listener.Addr().String())
	}

	if f.OpenURL != nil {
		if err := f.OpenURL(authURL); err != nil {
			return "", fmt.Errorf("failed to open consent url: %w", err)
		}
	}

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", ErrConsentDismissed
	}
}
