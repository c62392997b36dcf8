package main

import (
	"errors"

	"github.com/spf13/cobra"

	"spendsync/internal/core"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the stored session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE:  runSessionShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sign-out",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE:  runSessionSignOut,
	})
	return cmd
}

func runSessionShow(cmd *cobra.Command, _ []string) error {
	_, res, err := buildBackend(cmd)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	user, err := res.Session.CurrentUser(cmd.Context())
	if errors.Is(err, core.ErrAuthRequired) {
		cmd.Println("no active session")
		return nil
	}
	if err != nil {
		return err
	}
	cmd.Printf("%s <%s> id=%s\n", user.Name, user.Email, user.ID)
	return nil
}

func runSessionSignOut(cmd *cobra.Command, _ []string) error {
	_, res, err := buildBackend(cmd)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	if err := res.Session.SignOut(cmd.Context()); err != nil {
		return err
	}
	cmd.Println("signed out")
	return nil
}
