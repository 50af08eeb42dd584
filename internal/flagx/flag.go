// Package flagx helps components parse only their own command-line
// flags. Config loading makes several passes over os.Args (the config
// file path first, then the component's flags), so each pass has to
// ignore flags it does not own instead of failing on them.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Pick returns the arguments belonging to the named flags, in their
// original order. Both the "-f value" and "-f=value" spellings are kept;
// everything else is dropped.
func Pick(args []string, names ...string) []string {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		if name, _, hasValue := strings.Cut(arg, "="); hasValue {
			if _, keep := allowed[name]; keep {
				out = append(out, arg)
			}
			continue
		}
		if _, keep := allowed[arg]; !keep {
			continue
		}
		out = append(out, arg)
		// a following argument that is not itself a flag is this flag's value
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// ConfigFile extracts the -c/-config file path from args, or "" when the
// flag is absent.
func ConfigFile(args []string) string {
	var path string
	fs := flag.NewFlagSet("configfile", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(Pick(args, "-c", "-config", "--config"))
	return path
}
