package federated

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startLoopback(t *testing.T, ctx context.Context, state string) (addr chan string, results chan struct {
	code string
	err  error
}) {
	t.Helper()

	addr = make(chan string, 1)
	results = make(chan struct {
		code string
		err  error
	}, 1)

	flow := &LoopbackFlow{
		Addr:     "127.0.0.1:0",
		OnListen: func(a string) { addr <- a },
	}

	go func() {
		code, err := flow.Obtain(ctx, "https://issuer.example/authorize", state)
		results <- struct {
			code string
			err  error
		}{code, err}
	}()

	return addr, results
}

func redirect(t *testing.T, addr string, query url.Values) {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/callback?" + query.Encode())
	require.NoError(t, err)
	resp.Body.Close()
}

func TestLoopbackDeliversCode(t *testing.T) {
	t.Parallel()

	addr, results := startLoopback(t, context.Background(), "state-1")
	bound := <-addr

	// A redirect with the wrong state is ignored.
	redirect(t, bound, url.Values{"state": {"evil"}, "code": {"stolen"}})

	redirect(t, bound, url.Values{"state": {"state-1"}, "code": {"code-1"}})

	res := <-results
	require.NoError(t, res.err)
	require.Equal(t, "code-1", res.code)
}

func TestLoopbackAccessDeniedIsDismissal(t *testing.T) {
	t.Parallel()

	addr, results := startLoopback(t, context.Background(), "state-2")
	bound := <-addr

	redirect(t, bound, url.Values{"state": {"state-2"}, "error": {"access_denied"}})

	res := <-results
	require.ErrorIs(t, res.err, ErrConsentDismissed)
}

func TestLoopbackContextCancelIsDismissal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	addr, results := startLoopback(t, ctx, "state-3")
	<-addr

	cancel()

	select {
	case res := <-results:
		require.ErrorIs(t, res.err, ErrConsentDismissed)
	case <-time.After(2 * time.Second):
		t.Fatal("flow did not observe cancellation")
	}
}
