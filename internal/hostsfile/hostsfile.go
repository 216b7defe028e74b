// Package hostsfile reads the blocklist file named in spec §6: one entry
// per line, "#" introduces a comment, and every whitespace-separated token
// after the first is a blocked hostname, except the literal "localhost".
package hostsfile

import (
	"bufio"
	"os"
	"strings"
)

// Blocklist is a set of exact, case-sensitive hostnames to sinkhole.
type Blocklist map[string]struct{}

// Blocked reports whether name is present in the blocklist.
func (b Blocklist) Blocked(name string) bool {
	_, ok := b[name]
	return ok
}

// Load parses a hosts-style blocklist file.
func Load(path string) (Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bl := make(Blocklist)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		for _, name := range fields[1:] {
			if name == "localhost" {
				continue
			}
			bl[name] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return bl, nil
}
