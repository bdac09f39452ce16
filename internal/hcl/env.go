package hcl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/subosito/gotenv"
)

// Environment returns the process environment merged with the variables of
// a dotenv file. Variables already set in the process win. A missing dotenv
// file is not an error; an empty path skips it.
func Environment(dotenvPath string) (map[string]string, error) {
	env := make(map[string]string)

	if dotenvPath != "" {
		f, err := os.Open(dotenvPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open dotenv %s: %w", dotenvPath, err)
		default:
			parsed, perr := gotenv.StrictParse(f)
			f.Close()
			if perr != nil {
				return nil, fmt.Errorf("parse dotenv %s: %w", dotenvPath, perr)
			}
			for k, v := range parsed {
				env[k] = v
			}
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}
