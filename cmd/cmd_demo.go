package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/dosco/docjin/core"
	"github.com/dosco/docjin/memdb"
	"github.com/dosco/docjin/mongodriver"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

var (
	demoFake    int   // --fake: number of generated users
	demoSeed    int64 // --seed: faker seed, 0 picks one from the clock
	demoDocker  bool  // --docker: seed a MongoDB container instead of memory
	demoPersist bool  // --persist: Use Docker volumes for data persistence
)

// fixtureUsers is the users fixture set
var fixtureUsers = []core.Document{
	{"name": "foo", "style": "async", "num": 10},
	{"name": "bar", "style": "callback", "num": 15},
	{"name": "bar", "style": "async", "num": 12},
	{"name": nil, "style": "async", "num": 5},
	{"name": nil, "style": "callback", "num": 55},
	{"name": "bar", "style": "callback", "num": 22},
}

// fixtureBills are joined to users on bills.for_name = users.name
var fixtureBills = []core.Document{
	{"for_name": "foo", "amount": 100},
	{"for_name": "bar", "amount": 40},
	{"for_name": "bar", "amount": 60},
}

// demoCmd is the cobra CLI command for the demo subcommand
func demoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "demo",
		Short: "Seed and explore a demo database",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the demo users and bills and print a few queries",
		Long: `Seed the users/bills fixture plus generated data and run a few example
queries against it.

By default the data lives in memory for the life of the command. With
--docker a MongoDB container is started with testcontainers and kept
running until the command is interrupted.`,
		Run: cmdDemoSeed,
	}
	seedCmd.Flags().IntVar(&demoFake, "fake", 0, "Number of generated users to add")
	seedCmd.Flags().Int64Var(&demoSeed, "seed", 0, "Seed for generated data")
	seedCmd.Flags().BoolVar(&demoDocker, "docker", false, "Run against a MongoDB container")
	seedCmd.Flags().BoolVar(&demoPersist, "persist", false, "Persist container data in a Docker volume")
	c.AddCommand(seedCmd)

	return c
}

// demoModels declares the demo models
func demoModels() (users, bills *core.Model) {
	users = core.NewModel("User",
		core.SetIndexes(core.IndexOn("style", "-num")),
	)
	bills = core.NewModel("Bill",
		core.SetIndexes(core.IndexOn("for_name")),
	)
	users.HasMany("bills", bills, core.LocalKey("name"), core.ForeignKey("for_name"))
	return users, bills
}

// cmdDemoSeed is the handler for the demo seed subcommand
func cmdDemoSeed(*cobra.Command, []string) {
	setup(cpath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns := core.ConnectionMap{core.DefaultConnectionName: memdb.NewDB()}

	if demoDocker {
		log.Infof("Starting mongodb container...")
		cleanup, conn, err := startMongoDBDemo(ctx, demoPersist)
		if err != nil {
			log.Fatalf("%s", err)
		}
		defer cleanupAll(cleanup)

		conns[core.DefaultConnectionName] = conn
	}

	dj, err := core.NewDocJin(&core.Config{Debug: config.Debug}, conns, core.OptionSetLogger(zlog))
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer dj.Close(context.Background()) //nolint:errcheck

	users, bills := demoModels()
	if err := dj.Register(users, bills); err != nil {
		log.Fatalf("%s", err)
	}

	seed := demoSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	nu, nb, err := seedDemo(ctx, dj, users, bills, demoFake, gofakeit.New(seed))
	if err != nil {
		log.Fatalf("%s", err)
	}
	log.Infof("Seeded %d users and %d bills", nu, nb)

	if err := printDemo(ctx, dj, users); err != nil {
		log.Fatalf("%s", err)
	}

	if demoDocker {
		log.Infof("MongoDB is running, press Ctrl+C to stop")
		<-ctx.Done()
	}
}

// seedDemo inserts the fixture and n generated users, each with a few bills
func seedDemo(ctx context.Context, dj *core.DocJin, users, bills *core.Model, n int, f *gofakeit.Faker) (int64, int64, error) {
	if err := dj.SyncIndexes(ctx); err != nil {
		return 0, 0, errors.Wrap(err, "failed to create demo indexes")
	}

	ud := append([]core.Document{}, fixtureUsers...)
	bd := append([]core.Document{}, fixtureBills...)

	for i := 0; i < n; i++ {
		name := f.FirstName()
		ud = append(ud, core.Document{
			"name":  name,
			"style": f.RandomString([]string{"async", "callback"}),
			"num":   f.Number(1, 100),
			"email": f.Email(),
		})
		for j := f.Number(0, 3); j > 0; j-- {
			bd = append(bd, core.Document{
				"for_name": name,
				"amount":   f.Price(1, 500),
			})
		}
	}

	nu, err := dj.Model(users).Insert(ctx, ud...)
	if err != nil {
		return nu, 0, errors.Wrap(err, "failed to seed users")
	}

	nb, err := dj.Model(bills).Insert(ctx, bd...)
	if err != nil {
		return nu, nb, errors.Wrap(err, "failed to seed bills")
	}
	return nu, nb, nil
}

// printDemo runs a few example queries against the seeded data
func printDemo(ctx context.Context, dj *core.DocJin, users *core.Model) error {
	between, err := dj.Model(users).WhereBetween("num", 10, 15).Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("users with num between 10 and 15: %d\n", between)

	top, err := dj.Model(users).Max(ctx, "num")
	if err != nil {
		return err
	}
	fmt.Printf("max num: %v\n", top)

	withBills, err := dj.Model(users).
		Has("bills").
		With("bills").
		OrderBy("num", "desc").
		Limit(5).
		Get(ctx, "name", "num", "bills")
	if err != nil {
		return err
	}

	fmt.Println("top users with bills:")
	return writeValue(os.Stdout, withBills, "yaml")
}

// withVolumeMounts creates a customizer that adds volume mounts to the container
func withVolumeMounts(mounts testcontainers.ContainerMounts) testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		req.Mounts = append(req.Mounts, mounts...)
		return nil
	}
}

// startMongoDBDemo starts a MongoDB container and dials it
func startMongoDBDemo(ctx context.Context, persist bool) (func(context.Context) error, *mongodriver.Conn, error) {
	opts := []testcontainers.ContainerCustomizer{}

	if persist {
		opts = append(opts, withVolumeMounts(testcontainers.ContainerMounts{
			{
				Source: testcontainers.DockerVolumeMountSource{Name: "docjin-demo-mongodb"},
				Target: "/data/db",
			},
		}))
	}

	container, err := mongodb.Run(ctx, "mongo:7", opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	log.Infof("MongoDB running at %s", connStr)

	conn, err := mongodriver.Dial(ctx, core.ConnectionConfig{
		Driver:   "mongodb",
		URI:      connStr,
		Database: "docjin_demo",
	})
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return nil, nil, err
	}

	terminate := func(ctx context.Context) error { return container.Terminate(ctx) }
	return terminate, conn, nil
}

// cleanupAll runs the cleanup with a fresh context, the command context is
// usually cancelled by then
func cleanupAll(cleanups ...func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, c := range cleanups {
		if err := c(ctx); err != nil {
			log.Warnf("Cleanup failed: %s", err)
		}
	}
}
