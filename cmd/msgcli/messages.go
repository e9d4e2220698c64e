package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ademjemaa/42-push-sub000/internal/client"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <receiver-user-id> <message>",
	Short: "Send a direct message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		receiverID, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, auto, err := rest.SendMessage(ctx, uint(receiverID), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Sent message %d at %s\n", msg.ID, msg.Timestamp.Format(time.RFC3339))
		if auto != nil {
			fmt.Printf("Receiver gained you as a new contact (%s)\n", auto.Phone)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <contact-id>",
	Short: "Show the conversation with a contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return errors.New("expected exactly one contact id")
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid contact id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		// 墓碑命中就不打注定 404 的请求。
		tp, terr := tombstonePath()
		if terr == nil {
			if tombs, cerr := client.NewTombstoneCache(tp); cerr == nil && tombs.Has(uint(id)) {
				return fmt.Errorf("contact %d was deleted", id)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := rest.Conversation(ctx, uint(id))
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				if terr == nil {
					if tombs, cerr := client.NewTombstoneCache(tp); cerr == nil {
						tombs.Add(uint(id), "")
					}
				}
				return fmt.Errorf("contact %d was deleted", id)
			}
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range msgs {
			dir := "->"
			if m.SenderID == cfg.Auth.UserID {
				dir = "<-"
			}
			fmt.Printf("[%s] %s %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), dir, m.Content)
		}
		return nil
	},
}
