// Command navc is the query client, grounded on google-navc's
// test/client.go: dial the daemon's unix socket with
// net/rpc/jsonrpc and call a RequestHandler method. Generalized from
// the teacher's single hardcoded GetSymbolDecl sample call into a
// flag-selected subcommand per spec §6 query type.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"navc/internal/protocol"
)

func main() {
	socket := flag.String("socket", "/tmp/navc.sock", "daemon unix socket path")
	query := flag.String("query", "status", "query type: decl|references|status|reindex|suspend|shutdown|fixits|dumpfile")
	file := flag.String("file", "", "source file path")
	line := flag.Int("line", 0, "1-based line number")
	col := flag.Int("col", 0, "1-based column number")
	flag.Parse()

	client, err := protocol.DialUnix(*socket)
	if err != nil {
		log.Fatalf("dial %s: %v", *socket, err)
	}
	defer client.Close()

	switch *query {
	case "decl":
		args := Symbol{File: *file, Line: *line, Col: *col}
		var reply Symbol
		if err := client.Call("RequestHandler.GetSymbolDecl", &args, &reply); err != nil {
			log.Fatal("calling GetSymbolDecl: ", err)
		}
		fmt.Printf("%s\t%s:%d:%d\n", reply.Name, reply.File, reply.Line, reply.Col)

	case "references":
		args := Symbol{File: *file, Line: *line, Col: *col}
		var reply []Symbol
		if err := client.Call("RequestHandler.ReferencesLocation", &args, &reply); err != nil {
			log.Fatal("calling ReferencesLocation: ", err)
		}
		for _, r := range reply {
			fmt.Printf("%s:%d:%d\n", r.File, r.Line, r.Col)
		}

	case "status":
		var reply []string
		if err := client.Call("RequestHandler.Status", struct{}{}, &reply); err != nil {
			log.Fatal("calling Status: ", err)
		}
		for _, line := range reply {
			fmt.Println(line)
		}

	case "reindex":
		args := Symbol{File: *file}
		var reply int
		if err := client.Call("RequestHandler.Reindex", &args, &reply); err != nil {
			log.Fatal("calling Reindex: ", err)
		}
		fmt.Printf("resubmitted %d file(s)\n", reply)

	case "suspend":
		args := Symbol{File: *file}
		var reply bool
		if err := client.Call("RequestHandler.SuspendFile", &args, &reply); err != nil {
			log.Fatal("calling SuspendFile: ", err)
		}
		fmt.Printf("suspended=%v\n", reply)

	case "shutdown":
		if err := client.Call("RequestHandler.Shutdown", struct{}{}, &struct{}{}); err != nil {
			log.Fatal("calling Shutdown: ", err)
		}

	case "fixits":
		args := Symbol{File: *file}
		var reply []string
		if err := client.Call("RequestHandler.FixIts", &args, &reply); err != nil {
			log.Fatal("calling FixIts: ", err)
		}
		for _, line := range reply {
			fmt.Println(line)
		}

	case "dumpfile":
		args := Symbol{File: *file}
		var reply []string
		if err := client.Call("RequestHandler.DumpFile", &args, &reply); err != nil {
			log.Fatal("calling DumpFile: ", err)
		}
		for _, line := range reply {
			fmt.Println(line)
		}

	default:
		fmt.Fprintf(os.Stderr, "unsupported query %q (supported: decl, references, status, reindex, suspend, shutdown, fixits, dumpfile)\n", *query)
		os.Exit(1)
	}
}

// Symbol mirrors the daemon's RequestHandler.Symbol argument/reply
// shape, matching test/client.go's Symbol{Name, Usr, File, Line, Col}.
type Symbol struct {
	Name string
	Usr  string
	File string
	Line int
	Col  int
}
