package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			if err != errUsage {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(2)
		}
		log.Fatalf("kvrepo: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: kvrepo [-config file] <command> [arguments]

Commands:
  types                          list the configured types
  put <type> <json|->            persist an object, reading stdin for -
  get <type> <pk>                find an object by primary key
  find <type> <attribute> <value> find objects by attribute value
  list [flags] <type>            list objects; -start, -end and -sort may
                                 come before or after the type
  delete <type> <pk>             delete an object by primary key
  keys <type>                    list the store keys of a type`)
}
