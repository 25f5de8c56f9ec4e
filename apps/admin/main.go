package main

import (
	"context"
	"log"
	"os"

	"github.com/studysync/backend/core"
	"github.com/studysync/backend/core/course"
	"github.com/studysync/backend/storage/store"
	firestoredb "github.com/studysync/backend/storage/store/firestore"
	inmemdb "github.com/studysync/backend/storage/store/inmem"
)

var logger *log.Logger // todo: logger service

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up the document store
	db, err := openStore(conf)
	errAndDie(err)
	defer db.Close()

	// start CLI
	cli := commandLine{
		db:        db,
		courseSvc: course.NewService(db, stdLogger{std: logger}),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func openStore(conf *core.Config) (store.Store, error) {
	if conf.Store.Backend == "firestore" {
		return firestoredb.Open(context.Background(), conf)
	}
	return inmemdb.NewDB(), nil
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}

// stdLogger adapts the standard logger to core.Logger for CLI use.
type stdLogger struct {
	std *log.Logger
}

func (l stdLogger) Debug(msg string, args ...interface{}) { l.std.Println(msg) }
func (l stdLogger) Info(msg string, args ...interface{})  { l.std.Println(msg) }
func (l stdLogger) Warn(msg string, args ...interface{})  { l.std.Println(msg) }
func (l stdLogger) Error(msg string, args ...interface{}) { l.std.Println(msg) }
func (l stdLogger) Fatal(msg string, args ...interface{}) { l.std.Fatal(msg) }
