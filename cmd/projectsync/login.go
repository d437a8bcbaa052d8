package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fruitsalade/projectsync/pkg/client"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with email and password and save the token",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved token",
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (prompted when empty)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.TokenFile == "" {
		return errors.New("no token file configured")
	}

	email := loginEmail
	if email == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	tf, err := newAPIClient(cfg, "").Login(ctx, email, string(password))
	if err != nil {
		return err
	}
	if err := client.SaveToken(cfg.TokenFile, tf); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s. Token saved to %s\n", tf.Email, cfg.TokenFile)
	if !tf.ExpiresAt.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "Token expires %s\n", tf.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := client.DeleteToken(cfg.TokenFile); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}
