package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.Migrate(); err != nil {
			return err
		}
		fmt.Println("Schema up to date")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user <first-name> <last-name>",
	Short: "Register a user and print its uid",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.Migrate(); err != nil {
			return err
		}
		u := store.User{ID: uuid.NewString(), FirstName: args[0], LastName: args[1]}
		if err := db.CreateUser(cmd.Context(), &u); err != nil {
			return err
		}
		fmt.Println(u.ID)
		return nil
	},
}
