package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dosco/docjin/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"
)

// queryFlags holds the builder calls requested on the command line
type queryFlags struct {
	model      string
	collection string
	where      []string
	orWhere    []string
	orderBy    []string
	fields     []string
	with       []string
	has        []string
	skip       int
	limit      int
	first      bool
	count      bool
	explain    bool
	format     string
	timeout    time.Duration
}

var qf queryFlags

// queryCmd is the cobra CLI command for the query subcommand
func queryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "query",
		Short: "Run a query against a model or collection",
		Long: `Build a query from flags and print the matching documents.

Conditions take the form "field value" or "field operator value", eg.
  docjin query --model User --where "age >= 21" --where "name like ^al" --with bills

Values are parsed as YAML scalars so numbers, booleans, null and lists
([1, 2]) keep their type.`,
		Run: cmdQuery,
	}

	f := c.Flags()
	f.StringVar(&qf.model, "model", "", "Model name")
	f.StringVar(&qf.collection, "collection", "", "Collection name")
	f.StringArrayVar(&qf.where, "where", nil, "Where condition, can be repeated")
	f.StringArrayVar(&qf.orWhere, "or-where", nil, "OrWhere condition, can be repeated")
	f.StringArrayVar(&qf.orderBy, "order-by", nil, "Sort field, append :desc for descending")
	f.StringSliceVar(&qf.fields, "select", nil, "Fields to return")
	f.StringSliceVar(&qf.with, "with", nil, "Relations to load")
	f.StringSliceVar(&qf.has, "has", nil, "Relations that must be non-empty")
	f.IntVar(&qf.skip, "skip", 0, "Documents to skip")
	f.IntVar(&qf.limit, "limit", 0, "Maximum documents to return")
	f.BoolVar(&qf.first, "first", false, "Return only the first document")
	f.BoolVar(&qf.count, "count", false, "Print the number of matching documents")
	f.BoolVar(&qf.explain, "explain", false, "Print the aggregation pipeline instead of running it")
	f.StringVar(&qf.format, "format", "json", "Output format: json or yaml")
	f.DurationVar(&qf.timeout, "timeout", 30*time.Second, "Query timeout")

	return c
}

// cmdQuery is the handler for the query subcommand
func cmdQuery(*cobra.Command, []string) {
	ctx, cancel := context.WithTimeout(context.Background(), qf.timeout)
	defer cancel()

	dj, err := newDocJin(ctx)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer dj.Close(ctx) //nolint:errcheck

	q, err := buildQuery(dj, qf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if qf.explain {
		err = writePipeline(os.Stdout, q.Pipeline(), qf.format)
	} else {
		err = runQuery(ctx, os.Stdout, q, qf)
	}
	if err != nil {
		log.Fatalf("%s", err)
	}
}

// buildQuery applies the flags to a new query
func buildQuery(dj *core.DocJin, f queryFlags) (*core.Query, error) {
	var q *core.Query

	switch {
	case f.model != "":
		m, ok := dj.LookupModel(f.model)
		if !ok {
			return nil, fmt.Errorf("unknown model: %s", f.model)
		}
		q = dj.Model(m)
	case f.collection != "":
		q = dj.Collection(f.collection)
	default:
		return nil, errors.New("one of --model or --collection is required")
	}

	for _, w := range f.where {
		field, args, err := parseCondition(w)
		if err != nil {
			return nil, err
		}
		q.Where(field, args...)
	}

	for _, w := range f.orWhere {
		field, args, err := parseCondition(w)
		if err != nil {
			return nil, err
		}
		q.OrWhere(field, args...)
	}

	if len(f.with) != 0 {
		q.With(f.with...)
	}
	if len(f.has) != 0 {
		q.Has(f.has...)
	}

	for _, o := range f.orderBy {
		field, dir, _ := strings.Cut(o, ":")
		if dir == "" {
			q.OrderBy(field)
		} else {
			q.OrderBy(field, dir)
		}
	}

	if f.skip != 0 {
		q.Skip(f.skip)
	}
	if f.limit != 0 {
		q.Limit(f.limit)
	}
	if len(f.fields) != 0 {
		q.Select(f.fields...)
	}

	if err := q.Err(); err != nil {
		return nil, errors.Wrap(err, "invalid query")
	}
	return q, nil
}

// runQuery executes the query and writes the result
func runQuery(ctx context.Context, w io.Writer, q *core.Query, f queryFlags) error {
	var v any
	var err error

	switch {
	case f.count:
		v, err = q.Count(ctx)
	case f.first:
		v, err = q.First(ctx)
	default:
		v, err = q.Get(ctx)
	}
	if err != nil {
		return errors.Wrapf(err, "query on %s failed", q.CollectionName())
	}
	return writeValue(w, v, f.format)
}

// parseCondition splits "field value" or "field operator value". Two word
// operators such as "not like" are accepted.
func parseCondition(s string) (string, []any, error) {
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("invalid condition %q: expected 'field [operator] value'", s)
	}
	field := parts[0]

	if len(parts) >= 4 {
		if op, err := core.ParseOperator(parts[1] + " " + parts[2]); err == nil {
			return field, []any{string(op), parseValue(strings.Join(parts[3:], " "))}, nil
		}
	}

	if op, err := core.ParseOperator(parts[1]); err == nil {
		if len(parts) == 2 {
			return field, []any{string(op), nil}, nil
		}
		return field, []any{string(op), parseValue(strings.Join(parts[2:], " "))}, nil
	}
	return field, []any{parseValue(strings.Join(parts[1:], " "))}, nil
}

// parseValue decodes a YAML scalar or flow sequence, falling back to the
// raw string.
func parseValue(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func writeValue(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// writePipeline prints the pipeline keeping the stage key order
func writePipeline(w io.Writer, stages []bson.D, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		n, err := yamlNode(stages)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(n); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		for _, st := range stages {
			b, err := bson.MarshalExtJSON(st, false, false)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, string(b)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// yamlNode converts bson values to a yaml node tree so that bson.D keys
// stay in order.
func yamlNode(v any) (*yaml.Node, error) {
	switch v := v.(type) {
	case bson.D:
		n := &yaml.Node{Kind: yaml.MappingNode}
		for _, e := range v {
			val, err := yamlNode(e.Value)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: e.Key}, val)
		}
		return n, nil

	case bson.M:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		d := make(bson.D, len(keys))
		for i, k := range keys {
			d[i] = bson.E{Key: k, Value: v[k]}
		}
		return yamlNode(d)

	case []bson.D:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range v {
			c, err := yamlNode(e)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil

	case bson.A:
		return yamlNode([]any(v))

	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, e := range v {
			c, err := yamlNode(e)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil

	case bson.ObjectID:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: "ObjectId(" + v.Hex() + ")"}, nil

	case bson.Regex:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: "/" + v.Pattern + "/" + v.Options}, nil
	}

	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return n, nil
}
