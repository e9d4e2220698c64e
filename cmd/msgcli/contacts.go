package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ademjemaa/42-push-sub000/internal/client"
)

var contactsAddNickname string

func init() {
	rootCmd.AddCommand(contactsCmd)
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsFindCmd)
	contactsCmd.AddCommand(contactsRmCmd)

	contactsAddCmd.Flags().StringVar(&contactsAddNickname, "nickname", "", "display name for the contact (defaults to the phone number)")
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage your contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		list, err := rest.Contacts(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No contacts.")
			return nil
		}
		for _, c := range list {
			linked := "unlinked"
			if c.LinkedUserID != nil {
				linked = fmt.Sprintf("user %d", *c.LinkedUserID)
			}
			fmt.Printf("%4d  %-12s %-20s %s\n", c.ID, c.Phone, c.Nickname, linked)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <phone>",
	Short: "Add a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		nickname := contactsAddNickname
		if nickname == "" {
			nickname = args[0]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := rest.AddContact(ctx, args[0], nickname)
		if err != nil {
			return err
		}
		// 重新添加同号码要解除本地墓碑，否则会话会被缓存挡掉。
		tp, err := tombstonePath()
		if err == nil {
			if tombs, terr := client.NewTombstoneCache(tp); terr == nil {
				tombs.RemoveByPhone(c.Phone)
			}
		}
		fmt.Printf("Added contact %d (%s)\n", c.ID, c.Nickname)
		return nil
	},
}

var contactsFindCmd = &cobra.Command{
	Use:   "find <phone>",
	Short: "Look up a contact by phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := rest.FindContact(ctx, args[0])
		if err != nil {
			return err
		}
		linked := "unlinked"
		if c.LinkedUserID != nil {
			linked = fmt.Sprintf("user %d", *c.LinkedUserID)
		}
		fmt.Printf("%4d  %-12s %-20s %s\n", c.ID, c.Phone, c.Nickname, linked)
		return nil
	},
}

var contactsRmCmd = &cobra.Command{
	Use:   "rm <contact-id>",
	Short: "Delete a contact and both sides of its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid contact id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest := restFromConfig(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var phone string
		if list, lerr := rest.Contacts(ctx); lerr == nil {
			for _, c := range list {
				if c.ID == uint(id) {
					phone = c.Phone
					break
				}
			}
		}
		if err := rest.DeleteContact(ctx, uint(id)); err != nil {
			return err
		}
		tp, err := tombstonePath()
		if err == nil {
			if tombs, terr := client.NewTombstoneCache(tp); terr == nil {
				tombs.Add(uint(id), phone)
			}
		}
		fmt.Printf("Deleted contact %d\n", id)
		return nil
	},
}
