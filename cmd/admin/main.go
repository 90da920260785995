package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

const usage = `usage: admin <command> [flags]

commands:
  claims              list every claim (server)
  remove <claim-id>   remove a claim without refund (server)
  reload              rebuild the server cache from the store (server)
  stats               engine counters (server)
  db <table>          read the store directly: claims|regions|anchors|members|bans`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "claims":
		serverCmd("claims", args, http.MethodGet, func(fs *flag.FlagSet) (string, error) { return "/v1/admin/claims", nil })
	case "remove":
		serverCmd("remove", args, http.MethodDelete, func(fs *flag.FlagSet) (string, error) {
			if fs.NArg() != 1 {
				return "", fmt.Errorf("remove takes one claim id")
			}
			id, err := strconv.ParseInt(strings.TrimSpace(fs.Arg(0)), 10, 64)
			if err != nil || id <= 0 {
				return "", fmt.Errorf("bad claim id %q", fs.Arg(0))
			}
			return fmt.Sprintf("/v1/admin/claims/%d", id), nil
		})
	case "reload":
		serverCmd("reload", args, http.MethodPost, func(fs *flag.FlagSet) (string, error) { return "/v1/admin/reload", nil })
	case "stats":
		serverCmd("stats", args, http.MethodGet, func(fs *flag.FlagSet) (string, error) { return "/v1/admin/stats", nil })
	case "db":
		dbCmd(args)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func serverCmd(name string, args []string, method string, path func(fs *flag.FlagSet) (string, error)) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	player := fs.String("player", "", "operator player id sent as X-Player-ID (optional)")
	_ = fs.Parse(args)

	p, err := path(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	status, body, err := adminRequest(method, *baseURL, p, *player)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	}
	if status/100 != 2 {
		os.Exit(1)
	}
}
