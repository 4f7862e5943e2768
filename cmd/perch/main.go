package main

import (
	"fmt"
	"log"
	"os"

	"github.com/perchauth/perch/pkg/session"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := session.LoadConfig()

	application, err := newApp(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer application.Close()

	if err := application.Run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: perch <command> [flags]

commands:
  login            sign in (-provider userpool|federated, -username)
  refresh          exchange the stored refresh token for fresh session material
  logout           sign out and clear the local session record
  whoami           show the current session
  signup           register a pool user (-username, -email)
  confirm          confirm a registration (-username, -code)
  resend           resend a confirmation code (-username)
  forgot-password  start and finish the password reset flow (-username)
  change-password  change the signed-in user's password
  totp             print the current code for a TOTP secret (-secret)
  admin            privileged pool operations (create-user, delete-user,
                   reset-password); credentials from PERCH_ADMIN_KEY_ID and
                   PERCH_ADMIN_SECRET_KEY
`)
}
