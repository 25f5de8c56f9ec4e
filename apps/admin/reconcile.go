package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) reconcile() error {
	n, err := cli.courseSvc.Reconcile(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("reconciled %d pending operation(s)\n", n)
	return nil
}
