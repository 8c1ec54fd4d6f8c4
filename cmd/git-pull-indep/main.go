package main

import (
	"context"
	"os"

	"github.com/rancher/git-pull-indep/internal/app"
)

func main() {
	ctx := context.Background()
	os.Exit(app.Main(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
