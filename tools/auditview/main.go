// Command auditview pretty-prints an audit JSONL file, optionally filtered
// by conversation id, so one request/response exchange can be followed
// end to end across processes.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/openleague/league-manager/internal/audit"
)

func main() {
	path := flag.String("f", "audit.jsonl", "audit log path")
	conversation := flag.String("c", "", "filter by conversation id")
	flag.Parse()

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open %s: %v", *path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	shown, total := 0, 0
	for scanner.Scan() {
		total++
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			log.Printf("line %d: %v", total, err)
			continue
		}
		if *conversation != "" && rec.ConversationID != *conversation {
			continue
		}
		shown++
		fmt.Printf("%s  %-8s  %s -> %s  conv=%s\n  %s\n",
			rec.Timestamp.Format("15:04:05.000"),
			rec.Direction, rec.Source, rec.Destination, rec.ConversationID, rec.Message)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read %s: %v", *path, err)
	}
	fmt.Printf("%d of %d records\n", shown, total)
}
