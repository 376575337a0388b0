// Package config binds the daemon's recognized options (spec §6) to
// command-line flags the way the teacher's main.go does with the
// standard "flag" package (google-navc/main.go's -db flag), rather
// than introducing a config-file parser absent from the whole
// retrieved pack.
package config

import (
	"flag"
	"strings"
	"time"
)

// Option bits for the catch-all "options" bitset spec §6 describes.
type Option uint32

const (
	OptUnlimitedErrors Option = 1 << iota
	OptWall
	OptSpellChecking
	OptClearProjects
	OptNoStartupCurrentProject
	OptNoFileManagerWatch
)

// Forward is a configured multicast-forward overlay peer.
type Forward struct {
	Host string
	Port uint16
}

// Options is every daemon-recognized configuration value (spec §6).
type Options struct {
	JobCount          int
	UnloadTimer       time.Duration
	RescheduleTimeout time.Duration

	MulticastAddress string
	MulticastPort    int
	MulticastTTL     int
	TCPPort          int
	MulticastForwards []Forward

	SocketFile string
	DataDir    string

	IncludePaths     []string
	DefaultArguments []string
	ExcludeFilters   []string
	IgnoredCompilers []string

	Flags Option
}

// Default mirrors the teacher's main.go defaults (".dbsymbols" style
// single default value per flag), generalized across the full option
// set.
func Default() Options {
	return Options{
		JobCount:          4,
		UnloadTimer:       5 * time.Minute,
		RescheduleTimeout: 60 * time.Second,
		MulticastAddress:  "237.0.0.1",
		MulticastPort:     8765,
		MulticastTTL:      1,
		TCPPort:           8766,
		SocketFile:        "/tmp/navc.sock",
		DataDir:           ".navc",
	}
}

// Parse binds Options to flags on fs and parses args, returning the
// positional arguments left over (spec §1's indexDir equivalent, per
// main.go's flag.Args() use for the list of directories to index).
func Parse(fs *flag.FlagSet, args []string) (Options, []string, error) {
	opts := Default()

	var forwards, includePaths, defaultArgs, excludeFilters, ignoredCompilers string

	fs.IntVar(&opts.JobCount, "job-count", opts.JobCount, "parallelism for local indexing")
	fs.DurationVar(&opts.UnloadTimer, "unload-timer", opts.UnloadTimer, "idle duration before an inactive project is unloaded")
	fs.DurationVar(&opts.RescheduleTimeout, "reschedule-timeout", opts.RescheduleTimeout, "duration before a remote job is reassignable")
	fs.StringVar(&opts.MulticastAddress, "multicast-address", opts.MulticastAddress, "cluster multicast group address")
	fs.IntVar(&opts.MulticastPort, "multicast-port", opts.MulticastPort, "cluster multicast group port")
	fs.IntVar(&opts.MulticastTTL, "multicast-ttl", opts.MulticastTTL, "multicast datagram TTL")
	fs.IntVar(&opts.TCPPort, "tcp-port", opts.TCPPort, "peer job-pull listener port")
	fs.StringVar(&forwards, "multicast-forwards", "", "comma-separated host:port overlay peers")
	fs.StringVar(&opts.SocketFile, "socket-file", opts.SocketFile, "unix socket path for local queries")
	fs.StringVar(&opts.DataDir, "data-dir", opts.DataDir, "persistence root directory")
	fs.StringVar(&includePaths, "include-paths", "", "comma-separated extra system include roots")
	fs.StringVar(&defaultArgs, "default-arguments", "", "comma-separated always-appended compiler flags")
	fs.StringVar(&excludeFilters, "exclude-filters", "", "comma-separated glob patterns preventing indexing")
	fs.StringVar(&ignoredCompilers, "ignored-compilers", "", "comma-separated compiler paths to skip")

	var unlimitedErrors, wall, spellChecking, clearProjects, noStartupCurrentProject, noFileManagerWatch bool
	fs.BoolVar(&unlimitedErrors, "unlimited-errors", false, "don't cap diagnostic count per file")
	fs.BoolVar(&wall, "wall", false, "enable -Wall-equivalent diagnostics")
	fs.BoolVar(&spellChecking, "spell-checking", false, "enable identifier spell-checking diagnostics")
	fs.BoolVar(&clearProjects, "clear-projects", false, "clear all projects on startup")
	fs.BoolVar(&noStartupCurrentProject, "no-startup-current-project", false, "don't restore .currentProject on startup")
	fs.BoolVar(&noFileManagerWatch, "no-file-manager-watch", false, "don't start the fsnotify watcher")

	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}

	opts.MulticastForwards = parseForwards(forwards)
	opts.IncludePaths = splitNonEmpty(includePaths)
	opts.DefaultArguments = splitNonEmpty(defaultArgs)
	opts.ExcludeFilters = splitNonEmpty(excludeFilters)
	opts.IgnoredCompilers = splitNonEmpty(ignoredCompilers)

	if unlimitedErrors {
		opts.Flags |= OptUnlimitedErrors
	}
	if wall {
		opts.Flags |= OptWall
	}
	if spellChecking {
		opts.Flags |= OptSpellChecking
	}
	if clearProjects {
		opts.Flags |= OptClearProjects
	}
	if noStartupCurrentProject {
		opts.Flags |= OptNoStartupCurrentProject
	}
	if noFileManagerWatch {
		opts.Flags |= OptNoFileManagerWatch
	}

	return opts, fs.Args(), nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseForwards(s string) []Forward {
	var out []Forward
	for _, entry := range splitNonEmpty(s) {
		host, port, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		var p int
		for _, c := range port {
			if c < '0' || c > '9' {
				p = -1
				break
			}
			p = p*10 + int(c-'0')
		}
		if p <= 0 || p > 65535 {
			continue
		}
		out = append(out, Forward{Host: host, Port: uint16(p)})
	}
	return out
}
