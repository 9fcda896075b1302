package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/driftbox/driftbox/internal/client"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newRegisterCmd())
}

func newLoginCmd() *cobra.Command {
	var username string
	var password string

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if username == "" {
				if username, err = promptLine("Username: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			if err := c.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", username)
			return nil
		},
	}

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted if absent)")
	return loginCmd
}

func newRegisterCmd() *cobra.Command {
	var username string
	var email string
	var password string

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if username == "" {
				if username, err = promptLine("Username: "); err != nil {
					return err
				}
			}
			if email == "" {
				if email, err = promptLine("Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			if err := c.Register(cmd.Context(), username, email, password); err != nil {
				return err
			}
			fmt.Printf("Registered and logged in as %s\n", username)
			return nil
		},
	}

	registerCmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	registerCmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	registerCmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted if absent)")
	return registerCmd
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return promptLine(prompt)
	}
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
