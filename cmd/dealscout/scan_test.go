package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aluiziolira/go-auction-deals/models"
)

func TestRenderListings(t *testing.T) {
	var buf bytes.Buffer
	renderListings(&buf, []*models.Listing{
		{Title: "1999 Porsche 911 Carrera (996)", DealScore: 77, CurrentBid: 18000, MarketValue: 41400, DiscountPct: 57, HoursLeft: 3.5, BidCount: 12, NoReserve: true},
	})

	out := buf.String()
	for _, want := range []string{"1999 Porsche 911 Carrera (996)", "$18000", "$41400", "57%", "3.5h", "yes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRootCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "scan"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("--config flag missing")
	}
}
