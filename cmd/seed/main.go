package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/auth"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/container"
	"github.com/saulo-duarte/cbt-engine/internal/seed"
)

func main() {
	fixture := flag.String("fixture", "internal/seed/testdata/school.yaml", "path to the school fixture")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	flag.Parse()

	ctx := context.Background()

	c, err := container.New(ctx)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to initialize container")
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			config.Logger.WithError(err).Error("Container shutdown")
		}
	}()

	f, err := seed.Load(*fixture)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to load fixture")
	}

	t, err := c.Directory.Register(ctx, f.Tenant)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to register tenant")
	}
	repos, err := c.Tenants.ForTenant(ctx, t.ID)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to open tenant storage")
	}

	res, err := seed.Apply(ctx, repos, f)
	if err != nil {
		config.Logger.WithError(err).Fatal("Failed to apply fixture")
	}

	fmt.Fprintf(os.Stdout, "tenant    %s (%s)\n", t.ID, t.StorageLocation)
	fmt.Fprintf(os.Stdout, "classroom %s\n", res.ClassroomID)

	names := make([]string, 0, len(res.Tests))
	for name := range res.Tests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stdout, "test      %s %q\n", res.Tests[name], name)
	}

	usernames := make([]string, 0, len(res.Users))
	for name := range res.Users {
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)
	for _, name := range usernames {
		u := res.Users[name]
		token, err := auth.GenerateJWT(u.ID, t.ID, u.Role, *ttl)
		if err != nil {
			config.Logger.WithError(err).Fatal("Failed to sign token")
		}
		fmt.Fprintf(os.Stdout, "%-9s %-12s %s\n", u.Role, name, token)
	}
}
