package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kailas-cloud/fwcache/internal/cli"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root, release := cli.NewRootCmd(nil)
	err := root.ExecuteContext(ctx)
	release()
	stop()

	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if cli.IsNotFound(err) {
		os.Exit(2)
	}
	os.Exit(1)
}
