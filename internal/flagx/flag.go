// Package flagx lets the server parse its own flag subsets from os.Args
// without tripping over flags it does not know.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only the allowedFlags occurrences of args, together with
// their values. A value is either joined ("-c=conf.json") or the following
// argument when that does not start with a dash ("-c conf.json"). Order is
// preserved; the result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]bool, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, _, joined := strings.Cut(args[i], "=")
		if !strings.HasPrefix(name, "-") || !allowed[name] {
			continue
		}
		out = append(out, args[i])
		if !joined && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

// ConfigFile returns the path given by -c or -config in args, or "" when
// neither is present. The last occurrence wins.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to the JSON config file")
	fs.StringVar(&path, "c", "", "path to the JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--c", "--config"}))

	return path
}
