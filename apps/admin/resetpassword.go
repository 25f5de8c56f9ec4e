package main

import (
	"context"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/storage/store"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	usr, err := cli.getUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	return cli.db.Set(ctx, store.Users, usr.ID, usr.Fields())
}
