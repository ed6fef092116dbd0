// Command eventstore inspects and administers an event store.
//
//	eventstore [-config path] init
//	eventstore [-config path] head
//	eventstore [-config path] stream <id>
//	eventstore [-config path] subscriptions
//	eventstore [-config path] reset <subscription>
//	eventstore [-config path] cancel <subscription>
//
// Records are printed raw, payloads as stored.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/GabrielCarpr/eventcore/config"
	"github.com/GabrielCarpr/eventcore/container"
	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/log"
)

var errUsage = errors.New("usage: eventstore [-config path] <init|head|stream <id>|subscriptions|reset <id>|cancel <id>>")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("eventstore", flag.ContinueOnError)
	path := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()
	if len(args) == 0 {
		return errUsage
	}

	conf, err := config.Load(*path)
	if err != nil {
		return err
	}
	log.SetLevel(log.ParseLevel(conf.LogLevel))

	c, err := container.Build(conf)
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "init":
		fmt.Fprintf(out, "%s store ready\n", conf.Backend)
		return nil
	case "head":
		head, err := c.Store().Head(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, head)
		return nil
	case "stream":
		if len(args) != 2 {
			return errUsage
		}
		return printStream(ctx, c.Backend(), eventstore.StreamID(args[1]), out)
	case "subscriptions":
		return printSubscriptions(ctx, c.Backend(), out)
	case "reset":
		if len(args) != 2 {
			return errUsage
		}
		return c.Subscriptions().Reset(ctx, args[1])
	case "cancel":
		if len(args) != 2 {
			return errUsage
		}
		return c.Subscriptions().Cancel(ctx, args[1])
	}
	return fmt.Errorf("%s is not a valid command\n%w", args[0], errUsage)
}

func printStream(ctx context.Context, b eventstore.Backend, stream eventstore.StreamID, out io.Writer) error {
	cursor, err := b.Read(ctx, eventstore.Query{Stream: stream, Direction: eventstore.Forward})
	if err != nil {
		return err
	}
	defer cursor.Close()

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYHEAD\tSTREAM\tVERSION\tTYPE\tEVENT ID\tRECORDED AT\tPAYLOAD")
	for cursor.Next(ctx) {
		r := cursor.Record()
		fmt.Fprintf(w, "%d\t%s\t%d\t%s@%d\t%s\t%s\t%s\n",
			r.Playhead, r.StreamID, r.StreamVersion, r.EventType, r.PayloadVersion, r.EventID, r.RecordedAt.Format(time.RFC3339Nano), r.Payload)
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func printSubscriptions(ctx context.Context, b eventstore.Backend, out io.Writer) error {
	subs, err := b.Subscriptions(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTREAM\tTYPES\tCATCH UP\tSTATE\tLAST READ")
	for _, s := range subs {
		last := "-"
		if s.LastReadEventID.Valid {
			last = s.LastReadEventID.UUID.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%t\t%s\t%s\n", s.ID, s.Stream, s.Types, s.CatchUp, s.State, last)
	}
	return w.Flush()
}
