package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ademjemaa/42-push-sub000/internal/client"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen <phone> <password>",
	Short: "Interactive session over the realtime channel",
	Long: "Sign in, connect the realtime channel and print incoming messages as they arrive.\n" +
		"Type '<contact-id> <message>' to send, '/retry <contact-id> <temp-id>' to resend a failed message, '/quit' to exit.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tp, err := tombstonePath()
		if err != nil {
			return err
		}
		tombs, err := client.NewTombstoneCache(tp)
		if err != nil {
			return err
		}

		rest := client.NewREST(cfg.baseURL())
		rt := client.NewRealtime(cfg.baseURL(), "")
		msgr := client.NewMessenger(rest, rt, tombs)
		defer msgr.Close()

		msgr.OnContactsChanged(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = msgr.RefreshContacts(ctx)
		})
		msgr.OnConversation(func(contactID uint) {
			msgs := msgr.Cache().Messages(contactID)
			if len(msgs) == 0 {
				return
			}
			last := msgs[len(msgs)-1]
			fmt.Printf("[contact %d] %s (%s)\n", contactID, last.Content, last.Status)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		u, err := msgr.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Connected as %s. Type '<contact-id> <message>' to send, '/quit' to exit.\n", u.Username)

		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				return nil
			}
			if rem, ok := strings.CutPrefix(line, "/retry "); ok {
				fields := strings.Fields(rem)
				if len(fields) != 2 {
					fmt.Println("usage: /retry <contact-id> <temp-id>")
					continue
				}
				id, perr := strconv.ParseUint(fields[0], 10, 32)
				if perr != nil {
					fmt.Println("invalid contact id")
					continue
				}
				if rerr := msgr.Retry(context.Background(), uint(id), fields[1]); rerr != nil {
					fmt.Println("retry failed:", rerr)
				}
				continue
			}
			id, text, found := strings.Cut(line, " ")
			if !found {
				fmt.Println("usage: <contact-id> <message>")
				continue
			}
			contactID, perr := strconv.ParseUint(id, 10, 32)
			if perr != nil {
				fmt.Println("invalid contact id")
				continue
			}
			if _, serr := msgr.Send(context.Background(), uint(contactID), text); serr != nil {
				fmt.Println("send failed:", serr)
			}
		}
		return sc.Err()
	},
}
