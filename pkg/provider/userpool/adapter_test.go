package userpool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/provider"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, username string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"sub":      username,
		"exp":      exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(NewClient(server.URL, "pool-1", "client-1", nil), nil)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestAuthenticateSuccess(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	idToken := mintToken(t, "alice", exp)

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/auth/initiate", r.URL.Path)

		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "client-1", req.ClientID)
		require.Equal(t, "alice", req.Username)

		writeJSON(t, w, http.StatusOK, authResponse{Result: &authResult{
			AccessToken:  mintToken(t, "alice", exp),
			IDToken:      idToken,
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		}})
	}))

	resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "Secret1!"})
	require.True(t, resp.Successful())

	session, ok := resp.Payload.(provider.Session)
	require.True(t, ok)
	require.Equal(t, "alice", session.Username)
	require.Equal(t, provider.UserPool, session.Provider)
	require.Equal(t, idToken, session.IDToken)
	require.Equal(t, "refresh-1", session.Tokens.RefreshToken)
	require.Equal(t, exp.UnixMilli(), session.Tokens.IDTokenExpiresAt, "expiry from JWT exp claim, in milliseconds")
	require.True(t, session.ExpiresAt.Equal(exp))
}

func TestAuthenticateFailure(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, APIError{Code: ErrorCodeNotAuthorized, Message: "incorrect username or password"})
	}))

	resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "nope"})
	require.Equal(t, outcome.Failure, resp.Kind)

	apiErr, ok := AsAPIError(resp.Error())
	require.True(t, ok)
	require.Equal(t, ErrorCodeNotAuthorized, apiErr.Code)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestAuthenticateNewPasswordRequired(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour)

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/initiate":
			writeJSON(t, w, http.StatusOK, authResponse{
				ChallengeName:       ChallengeNewPassword,
				ChallengeParameters: map[string]string{"requiredAttributes": "email"},
				Session:             "continuation-1",
			})
		case "/v1/auth/challenge":
			var req challengeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, ChallengeNewPassword, req.ChallengeName)
			require.Equal(t, "continuation-1", req.Session)
			require.Equal(t, "NewSecret1!", req.Responses["NEW_PASSWORD"])

			writeJSON(t, w, http.StatusOK, authResponse{Result: &authResult{
				AccessToken: mintToken(t, "alice", exp),
				IDToken:     mintToken(t, "alice", exp),
				ExpiresIn:   3600,
			}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "Temp1!"})
	require.Equal(t, outcome.NewPasswordRequired, resp.Kind)
	require.True(t, resp.Challenge())
	require.NoError(t, resp.Error(), "expected branch resolves, never errors")

	state, ok := resp.Payload.(ChallengeState)
	require.True(t, ok)
	require.Equal(t, "alice", state.Username)

	done := adapter.CompleteNewPassword(context.Background(), state, "NewSecret1!", nil)
	require.True(t, done.Successful())
}

func TestAuthenticateMFARequired(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour)

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/initiate":
			writeJSON(t, w, http.StatusOK, authResponse{
				ChallengeName: ChallengeSoftwareMFA,
				Session:       "continuation-2",
			})
		case "/v1/auth/challenge":
			var req challengeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Responses["MFA_CODE"] != "123456" {
				writeJSON(t, w, http.StatusUnauthorized, APIError{Code: ErrorCodeCodeMismatch, Message: "invalid code"})
				return
			}
			writeJSON(t, w, http.StatusOK, authResponse{Result: &authResult{
				AccessToken: mintToken(t, "alice", exp),
				IDToken:     mintToken(t, "alice", exp),
				ExpiresIn:   3600,
			}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "Secret1!"})
	require.Equal(t, outcome.MFARequired, resp.Kind)
	state := resp.Payload.(ChallengeState)

	bad := adapter.RespondMFA(context.Background(), state, "000000")
	require.Equal(t, outcome.Failure, bad.Kind)

	good := adapter.RespondMFA(context.Background(), state, "123456")
	require.True(t, good.Successful())
}

func TestAuthenticateMFASetupChainsAssociation(t *testing.T) {
	t.Parallel()

	t.Run("association succeeds", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/auth/initiate":
				writeJSON(t, w, http.StatusOK, authResponse{
					ChallengeName: ChallengeMFASetup,
					Session:       "continuation-3",
				})
			case "/v1/mfa/associate":
				writeJSON(t, w, http.StatusOK, associateTokenResponse{SecretCode: "JBSWY3DPEHPK3PXP"})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))

		resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "Secret1!"})
		require.Equal(t, outcome.MFASetupSecret, resp.Kind)

		setup, ok := resp.Payload.(MFASetupSecret)
		require.True(t, ok)
		require.Equal(t, "JBSWY3DPEHPK3PXP", setup.Secret)
		require.Equal(t, "continuation-3", setup.State.Session)
	})

	t.Run("association fails", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/auth/initiate":
				writeJSON(t, w, http.StatusOK, authResponse{ChallengeName: ChallengeMFASetup, Session: "s"})
			case "/v1/mfa/associate":
				writeJSON(t, w, http.StatusInternalServerError, APIError{Code: ErrorCodeInternal, Message: "boom"})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))

		resp := adapter.Authenticate(context.Background(), provider.Credentials{Username: "alice", Password: "Secret1!"})
		require.Equal(t, outcome.MFASetupFailure, resp.Kind)
		require.Error(t, resp.Error())
	})
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	t.Run("success keeps the refresh token when the pool does not rotate", func(t *testing.T) {
		exp := time.Now().Add(time.Hour)

		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/auth/refresh", r.URL.Path)

			var req refreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "refresh-1", req.RefreshToken)

			writeJSON(t, w, http.StatusOK, authResponse{Result: &authResult{
				AccessToken: mintToken(t, "alice", exp),
				IDToken:     mintToken(t, "alice", exp),
				ExpiresIn:   3600,
			}})
		}))

		resp := adapter.Refresh(context.Background(), "refresh-1")
		require.True(t, resp.Successful())

		session := resp.Payload.(provider.Session)
		require.Equal(t, "refresh-1", session.Tokens.RefreshToken)
		require.Equal(t, "alice", session.Username)
	})

	t.Run("expired refresh token is classified as such", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, APIError{Code: ErrorCodeExpiredToken, Message: "refresh token expired"})
		}))

		resp := adapter.Refresh(context.Background(), "stale")
		require.Equal(t, outcome.ExpiredToken, resp.Kind)
		require.Error(t, resp.Error())
	})

	t.Run("other failures pass through", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusUnauthorized, APIError{Code: ErrorCodeNotAuthorized, Message: "revoked"})
		}))

		resp := adapter.Refresh(context.Background(), "revoked")
		require.Equal(t, outcome.Failure, resp.Kind)
	})
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	t.Run("nothing to revoke without a current user", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		}))
		require.NoError(t, adapter.SignOut(context.Background()))
	})

	t.Run("revokes with the current access token", func(t *testing.T) {
		var gotAuth string
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/auth/signout", r.URL.Path)
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		}))

		adapter.Restore("alice", "access-1")
		require.NoError(t, adapter.SignOut(context.Background()))
		require.Equal(t, "Bearer access-1", gotAuth)

		// Handle is dropped; a second sign-out is a no-op.
		require.NoError(t, adapter.SignOut(context.Background()))
	})

	t.Run("detach snapshots the token before revoking", func(t *testing.T) {
		var gotAuth string
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/auth/signout", r.URL.Path)
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		}))

		adapter.Restore("alice", "access-1")
		revoke := adapter.Detach()
		require.NotNil(t, revoke)

		// The handle is gone before the revocation runs, so a user
		// signing in meanwhile is never touched by the deferred call.
		require.Nil(t, adapter.Detach())
		adapter.Restore("bob", "access-2")

		require.NoError(t, revoke(context.Background()))
		require.Equal(t, "Bearer access-1", gotAuth)
	})
}

func TestAccessTokenScopedOpsRequireHandle(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	for name, resp := range map[string]*outcome.Response{
		"change password":   adapter.ChangePassword(context.Background(), "old", "new"),
		"set mfa":           adapter.SetMFA(context.Background(), true),
		"mfa options":       adapter.GetMFAOptions(context.Background()),
		"get attributes":    adapter.GetUserAttributes(context.Background()),
		"delete attributes": adapter.DeleteUserAttributes(context.Background(), []string{"email"}),
		"attribute code":    adapter.GetAttributeVerificationCode(context.Background(), "email"),
		"verify attribute":  adapter.VerifyAttribute(context.Background(), "email", "123456"),
		"delete user":       adapter.DeleteUser(context.Background()),
	} {
		require.Equal(t, outcome.Failure, resp.Kind, name)
		require.ErrorIs(t, resp.Error(), ErrNoCurrentUser, name)
	}
}

func TestForgotPasswordResolvesWithVerificationChallenge(t *testing.T) {
	t.Parallel()

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/password/forgot", r.URL.Path)
		writeJSON(t, w, http.StatusOK, CodeDelivery{DeliveryMedium: "EMAIL", Destination: "a***@example.com"})
	}))

	resp := adapter.ForgotPassword(context.Background(), "alice")
	require.Equal(t, outcome.InputVerificationCode, resp.Kind)
	require.True(t, resp.Challenge())

	delivery := resp.Payload.(CodeDelivery)
	require.Equal(t, "EMAIL", delivery.DeliveryMedium)
}

func TestAttributeVerification(t *testing.T) {
	t.Parallel()

	t.Run("code request resolves with delivery details", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/users/me/attributes/verify", r.URL.Path)
			require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

			var req attributeVerificationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "email", req.AttributeName)

			writeJSON(t, w, http.StatusOK, CodeDelivery{DeliveryMedium: "EMAIL", Destination: "a***@example.com"})
		}))

		adapter.Restore("alice", "access-1")
		resp := adapter.GetAttributeVerificationCode(context.Background(), "email")
		require.Equal(t, outcome.InputVerificationCode, resp.Kind)
		require.True(t, resp.Challenge())

		delivery := resp.Payload.(CodeDelivery)
		require.Equal(t, "a***@example.com", delivery.Destination)
	})

	t.Run("code submission confirms the attribute", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/users/me/attributes/confirm", r.URL.Path)

			var req verifyAttributeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "email", req.AttributeName)
			require.Equal(t, "123456", req.Code)

			w.WriteHeader(http.StatusNoContent)
		}))

		adapter.Restore("alice", "access-1")
		resp := adapter.VerifyAttribute(context.Background(), "email", "123456")
		require.True(t, resp.Successful())
	})
}
