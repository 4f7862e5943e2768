package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/perchauth/perch/pkg/cryptox"
	"github.com/perchauth/perch/pkg/outcome"
	"github.com/perchauth/perch/pkg/provider"
	"github.com/perchauth/perch/pkg/provider/federated"
	"github.com/perchauth/perch/pkg/provider/userpool"
	"github.com/perchauth/perch/pkg/session"
	"github.com/perchauth/perch/pkg/slogx"
	"github.com/perchauth/perch/pkg/store/sqlite"
	"github.com/perchauth/perch/pkg/totpx"
)

// app wires the session manager, the adapters, and the durable store for
// one CLI invocation.
type app struct {
	cfg     session.Config
	store   *sqlite.Store
	manager *session.Manager
	pool    *userpool.Adapter
	stdin   *bufio.Reader
}

func newApp(cfg session.Config) (*app, error) {
	logger := slogx.New(slogx.Config{
		App:     "perch",
		Version: version,
		Env:     "cli",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	var storeOpts []sqlite.Option
	if cfg.SealPassphrase != "" {
		storeOpts = append(storeOpts, sqlite.WithSealer(cryptox.NewSealer(cfg.SealPassphrase)))
	}
	storeOpts = append(storeOpts, sqlite.WithLogger(logger))

	st, err := sqlite.NewStore(cfg.DatabaseFile, cfg.StoragePrefix, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := st.ApplyMigrations(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to migrate session store: %w", err)
	}

	pool := userpool.NewAdapter(
		userpool.NewClient(cfg.PoolBaseURL, cfg.PoolID, cfg.PoolClientID, logger),
		logger,
	)

	adapters := []provider.Adapter{pool}
	if cfg.OIDCIssuerURL != "" {
		flow := &federated.LoopbackFlow{
			Addr:   loopbackAddr(cfg.OIDCRedirectURL),
			Logger: logger,
			OpenURL: func(url string) error {
				fmt.Println("Open this URL in your browser to continue:")
				fmt.Println("  " + url)
				return nil
			},
		}
		adapters = append(adapters, federated.NewAdapter(federated.Config{
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Scopes:       cfg.OIDCScopes,
			RedirectURL:  cfg.OIDCRedirectURL,
		}, flow, logger))
	}

	return &app{
		cfg:     cfg,
		store:   st,
		manager: session.NewManager(cfg, st, logger, adapters...),
		pool:    pool,
		stdin:   bufio.NewReader(os.Stdin),
	}, nil
}

func (a *app) Close() {
	a.manager.Wait()
	_ = a.store.Close()
}

func (a *app) Run(command string, args []string) error {
	ctx := context.Background()

	switch command {
	case "login":
		return a.login(ctx, args)
	case "refresh":
		return a.refresh(ctx)
	case "logout":
		a.manager.SignOut(ctx)
		fmt.Println("signed out")
		return nil
	case "whoami":
		return a.whoami()
	case "signup":
		return a.signup(ctx, args)
	case "confirm":
		return a.confirm(ctx, args)
	case "resend":
		return a.resend(ctx, args)
	case "forgot-password":
		return a.forgotPassword(ctx, args)
	case "change-password":
		return a.changePassword(ctx)
	case "totp":
		return a.totp(args)
	case "admin":
		return a.admin(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	providerName := fs.String("provider", "userpool", "identity backend (userpool or federated)")
	username := fs.String("username", "", "username (userpool only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tag := provider.Provider(*providerName)
	var password string
	if tag == provider.UserPool {
		if *username == "" {
			return errors.New("login: -username is required for the userpool provider")
		}
		password = a.prompt("Password: ")
	}

	resp := a.manager.SignIn(ctx, tag, *username, password)
	resp, err := a.resolveChallenges(ctx, resp)
	if err != nil {
		return err
	}
	if !resp.Successful() {
		return fmt.Errorf("sign-in %s", resp)
	}

	fmt.Printf("signed in as %s via %s\n", a.manager.Username(), a.manager.Provider())
	return nil
}

// resolveChallenges walks the interactive challenge loop until the flow
// reaches a terminal outcome.
func (a *app) resolveChallenges(ctx context.Context, resp *outcome.Response) (*outcome.Response, error) {
	for resp.Challenge() {
		switch resp.Kind {
		case outcome.NewPasswordRequired:
			state, ok := resp.Payload.(userpool.ChallengeState)
			if !ok {
				return nil, errors.New("login: malformed new-password challenge")
			}
			resp = a.manager.CompleteNewPassword(ctx, state, a.prompt("New password: "), nil)

		case outcome.MFARequired:
			state, ok := resp.Payload.(userpool.ChallengeState)
			if !ok {
				return nil, errors.New("login: malformed MFA challenge")
			}
			resp = a.manager.RespondMFA(ctx, state, a.prompt("MFA code: "))

		case outcome.MFASetupSecret:
			setup, ok := resp.Payload.(userpool.MFASetupSecret)
			if !ok {
				return nil, errors.New("login: malformed MFA setup challenge")
			}
			fmt.Println("Add this secret to your authenticator app:", setup.Secret)
			fmt.Println("  " + totpx.ProvisioningURI("perch", setup.State.Username, setup.Secret))
			resp = a.manager.CompleteMFASetup(ctx, setup, a.prompt("Code from the app: "))

		default:
			return resp, nil
		}
	}
	return resp, nil
}

func (a *app) refresh(ctx context.Context) error {
	resp := a.manager.RefreshSession(ctx)
	if !resp.Successful() {
		return fmt.Errorf("refresh %s", resp)
	}
	fmt.Println("session refreshed")
	return a.whoami()
}

func (a *app) whoami() error {
	if !a.manager.IsAuthenticated() {
		fmt.Println("not signed in")
		return nil
	}
	fmt.Printf("user:     %s\n", a.manager.Username())
	fmt.Printf("provider: %s\n", a.manager.Provider())
	if left, ok := a.manager.Remaining(); ok {
		fmt.Printf("expires:  in %s\n", left.Round(time.Second))
	}
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	username := fs.String("username", "", "username to register")
	email := fs.String("email", "", "email attribute")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("signup: -username is required")
	}

	attributes := map[string]string{}
	if *email != "" {
		attributes["email"] = *email
	}

	resp := a.pool.SignUp(ctx, *username, a.prompt("Password: "), attributes)
	if !resp.Successful() {
		return fmt.Errorf("signup %s", resp)
	}
	fmt.Println("registered; check your inbox for the confirmation code")
	return nil
}

func (a *app) confirm(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	username := fs.String("username", "", "username to confirm")
	code := fs.String("code", "", "confirmation code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *code == "" {
		return errors.New("confirm: -username and -code are required")
	}

	resp := a.pool.ConfirmRegistration(ctx, *username, *code)
	if !resp.Successful() {
		return fmt.Errorf("confirm %s", resp)
	}
	fmt.Println("registration confirmed")
	return nil
}

func (a *app) resend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resend", flag.ContinueOnError)
	username := fs.String("username", "", "username to resend the code to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("resend: -username is required")
	}

	resp := a.pool.ResendConfirmationCode(ctx, *username)
	if !resp.Successful() {
		return fmt.Errorf("resend %s", resp)
	}
	fmt.Println("confirmation code resent")
	return nil
}

func (a *app) forgotPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forgot-password", flag.ContinueOnError)
	username := fs.String("username", "", "username to reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("forgot-password: -username is required")
	}

	resp := a.pool.ForgotPassword(ctx, *username)
	if resp.Kind != outcome.InputVerificationCode {
		return fmt.Errorf("forgot-password %s", resp)
	}
	if delivery, ok := resp.Payload.(userpool.CodeDelivery); ok {
		fmt.Printf("verification code sent via %s to %s\n", delivery.DeliveryMedium, delivery.Destination)
	}

	code := a.prompt("Verification code: ")
	newPassword := a.prompt("New password: ")

	resp = a.pool.ConfirmPassword(ctx, *username, code, newPassword)
	if !resp.Successful() {
		return fmt.Errorf("forgot-password %s", resp)
	}
	fmt.Println("password reset")
	return nil
}

func (a *app) changePassword(ctx context.Context) error {
	if !a.manager.IsAuthenticated() {
		return errors.New("change-password: sign in first")
	}

	resp := a.pool.ChangePassword(ctx, a.prompt("Current password: "), a.prompt("New password: "))
	if !resp.Successful() {
		return fmt.Errorf("change-password %s", resp)
	}
	fmt.Println("password changed")
	return nil
}

// totp prints the current code for an enrolled secret, for users without
// an authenticator app at hand.
func (a *app) totp(args []string) error {
	fs := flag.NewFlagSet("totp", flag.ContinueOnError)
	secret := fs.String("secret", "", "shared TOTP secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("totp: -secret is required")
	}

	code, err := totpx.GenerateCode(*secret, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

func (a *app) admin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("admin: subcommand required (create-user, delete-user, reset-password)")
	}
	sub, args := args[0], args[1:]

	creds := userpool.AdminCredentials{
		AccessKeyID: os.Getenv("PERCH_ADMIN_KEY_ID"),
		SecretKey:   os.Getenv("PERCH_ADMIN_SECRET_KEY"),
	}
	if creds.AccessKeyID == "" || creds.SecretKey == "" {
		return errors.New("admin: PERCH_ADMIN_KEY_ID and PERCH_ADMIN_SECRET_KEY must be set")
	}
	client := userpool.NewAdminClient(a.cfg.PoolBaseURL, a.cfg.PoolID, creds, nil)

	fs := flag.NewFlagSet("admin "+sub, flag.ContinueOnError)
	username := fs.String("username", "", "target username")
	tempPassword := fs.String("temp-password", "", "temporary password (create-user)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("admin: -username is required")
	}

	switch sub {
	case "create-user":
		if *tempPassword == "" {
			return errors.New("admin create-user: -temp-password is required")
		}
		if err := client.AdminCreateUser(ctx, *username, *tempPassword); err != nil {
			return err
		}
		fmt.Printf("created %s (temporary password, must change on first sign-in)\n", *username)
		return nil
	case "delete-user":
		if err := client.AdminDeleteUser(ctx, *username); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", *username)
		return nil
	case "reset-password":
		if err := client.AdminResetUserPassword(ctx, *username); err != nil {
			return err
		}
		fmt.Printf("reset password for %s\n", *username)
		return nil
	default:
		return fmt.Errorf("admin: unknown subcommand %q", sub)
	}
}

func (a *app) prompt(label string) string {
	fmt.Print(label)
	line, _ := a.stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// loopbackAddr derives the listen address from the registered redirect URL,
// falling back to a fixed local port.
func loopbackAddr(redirectURL string) string {
	const fallback = "127.0.0.1:8453"
	rest, ok := strings.CutPrefix(redirectURL, "http://")
	if !ok {
		return fallback
	}
	host, _, ok := strings.Cut(rest, "/")
	if !ok || host == "" {
		return fallback
	}
	return host
}
