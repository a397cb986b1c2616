package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"nostr-greet/internal/contacts"
	"nostr-greet/internal/nostr"
	"nostr-greet/internal/publish"
	"nostr-greet/internal/relay"
	"nostr-greet/internal/types"
)

var (
	nameColor  = color.New(color.Bold).SprintfFunc()
	dimColor   = color.New(color.Faint).SprintfFunc()
	okColor    = color.New(color.FgGreen).SprintfFunc()
	warnColor  = color.New(color.FgYellow).SprintfFunc()
	errorColor = color.New(color.FgHiRed).SprintfFunc()
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

func when(ts int64) string {
	return humanize.Time(time.Unix(ts, 0))
}

func authorName(cc *contacts.Cache, pk string) string {
	meta, _, _ := cc.Metadata(pk)
	return meta.BestName(nostr.ShortID(nostr.EncodeNpub(pk)))
}

func printEvents(w io.Writer, cc *contacts.Cache, evts []*types.Event) {
	for _, e := range evts {
		fmt.Fprintf(w, "%s %s %s\n",
			nameColor("%s", authorName(cc, e.PubKey)),
			dimColor("%s", when(e.CreatedAt)),
			dimColor("[%s]", nostr.ShortID(e.ID)))
		if e.Kind == types.KindRepost {
			fmt.Fprintf(w, "  reposted %s\n", strings.Join(e.TagValues("e"), ", "))
		} else {
			for _, line := range strings.Split(e.Content, "\n") {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
		fmt.Fprintln(w)
	}
}

func statusText(s relay.Status) string {
	switch s {
	case relay.StatusConnected:
		return okColor("%s", s)
	case relay.StatusConnecting:
		return warnColor("%s", s)
	case relay.StatusUnhealthy:
		return errorColor("%s", s)
	}
	return dimColor("%s", s)
}

func outcomeText(r publish.RelayResult) string {
	switch r.Outcome {
	case publish.OK:
		return okColor("%s", r.Outcome)
	case publish.Rejected:
		return errorColor("%s", r.Outcome)
	}
	return warnColor("%s", r.Outcome)
}

func printResult(res publish.Result) {
	urls := make([]string, 0, len(res))
	for u := range res {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	table := newTable(os.Stdout, "Relay", "Outcome", "Reason")
	for _, u := range urls {
		r := res[u]
		table.Append([]string{u, outcomeText(r), r.Reason})
	}
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
