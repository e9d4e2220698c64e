package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ademjemaa/42-push-sub000/internal/client"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(meCmd)
}

// restFromConfig 用保存的令牌组装 REST 客户端。
func restFromConfig(cfg *Config) *client.REST {
	r := client.NewREST(cfg.baseURL())
	if cfg.Auth.Token != "" {
		r.SetToken(cfg.Auth.Token)
	}
	return r
}

var registerCmd = &cobra.Command{
	Use:   "register <phone> <username> <password>",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		u, err := rest.RegisterAccount(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s (id %d). Run 'msgcli login %s <password>' to sign in.\n", u.Username, u.ID, u.Phone)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <phone> <password>",
	Short: "Sign in and store the access token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := client.NewREST(cfg.baseURL())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		u, err := rest.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		cfg.Auth.Token = rest.Token()
		cfg.Auth.UserID = u.ID
		cfg.Auth.Phone = u.Phone
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (id %d)\n", u.Username, u.ID)
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the current account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		u, err := rest.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %d\n", u.ID)
		fmt.Printf("Phone:    %s\n", u.Phone)
		fmt.Printf("Username: %s\n", u.Username)
		return nil
	},
}
