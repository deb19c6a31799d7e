package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dosco/docjin/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	dbModel      string
	dbCollection string
)

// dbCmd creates the db command
func dbCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Connection and index management commands",
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check every configured connection is reachable",
		Run:   cmdDBPing,
	}
	c.AddCommand(pingCmd)

	idxCmd := &cobra.Command{
		Use:   "indexes",
		Short: "Manage collection indexes",
	}
	idxCmd.PersistentFlags().StringVar(&dbModel, "model", "", "Model name")
	idxCmd.PersistentFlags().StringVar(&dbCollection, "collection", "", "Collection name")

	idxCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the indexes of a model or collection",
		Run:   cmdIndexesList,
	})

	idxCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Create the indexes declared by every model",
		Long: `Create the indexes declared on every registered model.

Indexes that already exist with the same keys and options are left alone.
An index that exists with different options is reported as an error.`,
		Run: cmdIndexesSync,
	})

	idxCmd.AddCommand(&cobra.Command{
		Use:   "drop <name>",
		Short: "Drop an index by name",
		Args:  cobra.ExactArgs(1),
		Run:   cmdIndexesDrop,
	})
	c.AddCommand(idxCmd)

	return c
}

// cmdDBPing pings the connections that support it
func cmdDBPing(*cobra.Command, []string) {
	setup(cpath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conns, err := openConnections(ctx, config.Engine())
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer conns.Close(ctx) //nolint:errcheck

	names := make([]string, 0, len(conns))
	for name := range conns {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		p, ok := conns[name].(interface{ Ping(context.Context) error })
		if !ok {
			log.Infof("%s: ok (memory)", name)
			continue
		}
		if err := p.Ping(ctx); err != nil {
			log.Errorf("%s: %s", name, err)
			failed++
			continue
		}
		log.Infof("%s: ok", name)
	}

	if failed != 0 {
		log.Fatalf("%d connection(s) failed", failed)
	}
}

// indexTarget resolves the --model or --collection flag to a query
func indexTarget(dj *core.DocJin) (*core.Query, error) {
	switch {
	case dbModel != "":
		m, ok := dj.LookupModel(dbModel)
		if !ok {
			return nil, fmt.Errorf("unknown model: %s", dbModel)
		}
		return dj.Model(m), nil
	case dbCollection != "":
		return dj.Collection(dbCollection), nil
	default:
		return nil, errors.New("one of --model or --collection is required")
	}
}

// cmdIndexesList prints the indexes of a collection
func cmdIndexesList(*cobra.Command, []string) {
	ctx := context.Background()

	dj, err := newDocJin(ctx)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer dj.Close(ctx) //nolint:errcheck

	q, err := indexTarget(dj)
	if err != nil {
		log.Fatalf("%s", err)
	}

	list, err := q.Indexes(ctx)
	if err != nil {
		log.Fatalf("%s", errors.Wrap(err, "failed to list indexes"))
	}

	for _, idx := range list {
		fmt.Println(formatIndex(idx))
	}
}

// cmdIndexesSync creates the indexes declared by every model
func cmdIndexesSync(*cobra.Command, []string) {
	ctx := context.Background()

	dj, err := newDocJin(ctx)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer dj.Close(ctx) //nolint:errcheck

	if err := dj.SyncIndexes(ctx); err != nil {
		log.Fatalf("%s", errors.Wrap(err, "failed to sync indexes"))
	}
	log.Infof("Indexes synced for %d models", len(dj.Models()))
}

// cmdIndexesDrop drops one index
func cmdIndexesDrop(_ *cobra.Command, args []string) {
	ctx := context.Background()

	dj, err := newDocJin(ctx)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer dj.Close(ctx) //nolint:errcheck

	q, err := indexTarget(dj)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if err := q.DropIndex(ctx, args[0]); err != nil {
		log.Fatalf("%s", errors.Wrapf(err, "failed to drop index %s", args[0]))
	}
	log.Infof("Dropped index %s on %s", args[0], q.CollectionName())
}

// formatIndex renders an index as: name (field asc, field desc) unique sparse
func formatIndex(idx core.Index) string {
	keys := make([]string, len(idx.Keys))
	for i, k := range idx.Keys {
		dir := "asc"
		if fmt.Sprint(k.Value) == "-1" {
			dir = "desc"
		}
		keys[i] = k.Key + " " + dir
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)", idx.Name, strings.Join(keys, ", "))
	if idx.Unique {
		sb.WriteString(" unique")
	}
	if idx.Sparse {
		sb.WriteString(" sparse")
	}
	return sb.String()
}
