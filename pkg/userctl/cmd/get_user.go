package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/nsyszr/foodblog/pkg/messaging/amqp"
	"github.com/nsyszr/foodblog/pkg/rpc"
	"github.com/nsyszr/foodblog/pkg/users"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	getCmd.AddCommand(getUserCmd)
}

var getUserCmd = &cobra.Command{
	Use:     "user ID...",
	Aliases: []string{"users"},
	Short:   "Resolve users by id",
	Long: `Resolve users by id through the auth service. With several ids the
lookups run concurrently and ids that fail to resolve are left out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		broker := amqp.NewBroker(flagAMQPURL, amqp.WithWaitTimeout(flagWaitTimeout))
		defer broker.Close()

		caller := rpc.NewCaller(broker,
			rpc.WithTargetQueue(flagQueue),
			rpc.WithRequestQueueDeclare(flagDeadLetterExchange))
		if err := broker.Connect(ctx); err != nil {
			return err
		}

		resolver := users.NewResolver(caller, users.WithResolveTimeout(flagTimeout))
		return resolve(ctx, resolver, ids, os.Stdout)
	},
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid user id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolve prints the users behind ids. A single id fails on error; several
// ids are resolved best effort.
func resolve(ctx context.Context, resolver users.Resolver, ids []int64, out io.Writer) error {
	var replies []users.Reply
	if len(ids) == 1 {
		reply, err := resolver.ResolveUser(ctx, ids[0])
		if err != nil {
			return errors.Wrapf(err, "failed to resolve user %d", ids[0])
		}
		replies = []users.Reply{reply}
	} else {
		replies = resolver.ResolveUsers(ctx, ids)
	}

	printReplies(out, replies)
	if missing := len(ids) - len(replies); missing > 0 {
		fmt.Fprintf(out, "%d of %d users could not be resolved\n", missing, len(ids))
	}
	return nil
}

func printReplies(out io.Writer, replies []users.Reply) {
	w := new(tabwriter.Writer)

	// Format in tab-separated columns with a tab stop of 8.
	w.Init(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tNAME\tCREATED")
	for _, reply := range replies {
		if reply.IsUnknown() {
			fmt.Fprintf(w, "%d\t%s\t-\t-\t-\n", reply.ID(), users.UnknownName)
			continue
		}
		p := reply.Profile
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Username,
			p.Email,
			fullName(p),
			p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func fullName(p *users.Profile) string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return "-"
}
