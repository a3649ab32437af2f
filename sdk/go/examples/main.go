package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"DeafFirst-Hub/sdk/go/deafhub"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "hub base URL")
	token := flag.String("token", os.Getenv("DEAFHUB_TOKEN"), "admin access token")
	flag.Parse()

	client, err := deafhub.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.SendCommand(ctx, deafhub.Command{Command: "/tax credits", UserID: "demo"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("[%s] %s\n", res.Kind, res.Message)

	if *token == "" {
		return
	}
	client.SetAccessToken(*token)
	connectors, err := client.ListConnectors(ctx, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, c := range connectors {
		fmt.Printf("%-20s %-16s enabled=%t\n", c.Name, c.Type, c.Enabled)
	}
	stats, err := client.EventStats(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("last 24h: %d dispatched, %d failed, %d duplicates\n", stats.Total, stats.Failed, stats.Duplicates)
}
