package main

import (
	"fmt"
	"strconv"
	"strings"

	"listings_sync/models"
)

const usage = `usage: syncall [idx] [vow] [-N] [--limit N] [--reset|incremental] [-v]

  idx, vow        feeds to sync (default: both)
  -N, --limit N   stop after N properties per feed
  --reset         restart from the configured start timestamp
  incremental     resume from the stored cursor (default)
  -v, --verbose   log at the configured level instead of warn`

type cliArgs struct {
	Types   []models.SyncType
	Limit   int
	Reset   bool
	Verbose bool
	Help    bool
}

func parseArgs(args []string) (*cliArgs, error) {
	out := &cliArgs{}
	seen := make(map[models.SyncType]bool)
	incremental := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			out.Help = true
		case arg == "-v" || arg == "--verbose":
			out.Verbose = true
		case arg == "--reset" || arg == "reset":
			out.Reset = true
		case arg == "--incremental" || arg == "incremental":
			incremental = true
		case arg == "--limit" || arg == "-limit":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s needs a value", arg)
			}
			i++
			n, err := parseLimit(args[i])
			if err != nil {
				return nil, err
			}
			out.Limit = n
		case strings.HasPrefix(arg, "--limit="):
			n, err := parseLimit(strings.TrimPrefix(arg, "--limit="))
			if err != nil {
				return nil, err
			}
			out.Limit = n
		case len(arg) > 1 && arg[0] == '-' && isDigits(arg[1:]):
			n, err := parseLimit(arg[1:])
			if err != nil {
				return nil, err
			}
			out.Limit = n
		default:
			t, ok := models.ParseSyncType(strings.ToLower(arg))
			if !ok {
				return nil, fmt.Errorf("unknown argument %q", arg)
			}
			if !seen[t] {
				seen[t] = true
				out.Types = append(out.Types, t)
			}
		}
	}

	if out.Reset && incremental {
		return nil, fmt.Errorf("--reset and incremental are mutually exclusive")
	}
	if len(out.Types) == 0 {
		out.Types = append(out.Types, models.AllSyncTypes...)
	}
	return out, nil
}

func parseLimit(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	return n, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
