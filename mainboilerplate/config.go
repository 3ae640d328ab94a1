package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// MustParseConfig parses the combination of an optional INI file,
// environment bindings, and explicit flags into |parser|'s config object.
// An INI file named |configName| is searched for in the current working
// directory and in ~/.config/relite.
func MustParseConfig(parser *flags.Parser, configName string) {
	// Allow unknown options while parsing the INI file.
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown

	var iniParser = flags.NewIniParser(parser)

	for _, prefix := range []string{
		".",
		filepath.Join(os.Getenv("HOME"), ".config", "relite"),
	} {
		var path = filepath.Join(prefix, configName)

		if err := iniParser.ParseFile(path); err == nil {
			break
		} else if os.IsNotExist(err) {
			// Pass.
		} else {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	parser.Options = origOptions
	MustParseArgs(parser)
}

// MustParseArgs requires that |parser| parse the process arguments
// without error.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		var flagErr, ok = err.(*flags.Error)
		if !ok {
			Must(err, "fatal error")
		}

		switch flagErr.Type {
		case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag,
			flags.ErrShortNameTooLong, flags.ErrMarshal:
			// A problem in the configuration object itself (a developer
			// error rather than an input error).
			panic(err)

		case flags.ErrHelp:
			if parser.Options&flags.PrintErrors == 0 {
				parser.WriteHelp(os.Stderr)
			}
			fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
			os.Exit(1)

		default:
			// `go-flags` already prints a helpful message.
			os.Exit(1)
		}
	}
}
