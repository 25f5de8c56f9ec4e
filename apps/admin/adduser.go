package main

import (
	"context"
	"time"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/user"
	"github.com/studysync/backend/storage/store"
)

// addUser updates or creates a user account, bypassing email verification.
func (cli *commandLine) addUser(email, name, pwd string, verified bool) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	usr, err := cli.getUserByEmail(ctx, email)
	if err != nil {
		if err != store.ErrNotFound {
			return err
		}
		usr = user.User{
			Email:     email,
			CreatedAt: time.Now().UTC(),
		}
	}
	usr.DisplayName = name
	if verified {
		usr.EmailVerified = true
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	if usr.ID == "" {
		_, err = cli.db.Add(ctx, store.Users, usr.Fields())
		return err
	}
	return cli.db.Set(ctx, store.Users, usr.ID, usr.Fields())
}

func (cli *commandLine) getUserByEmail(ctx context.Context, email string) (user.User, error) {
	docs, err := cli.db.GetAll(ctx, store.NewQuery(store.Users).Where("email", email))
	if err != nil {
		return user.User{}, err
	}
	if len(docs) == 0 {
		return user.User{}, store.ErrNotFound
	}
	return user.FromDoc(docs[0]), nil
}
