// Package pathexpand implements the path-resolution substitution grammar:
// a leading %TEMP% token resolves to the system temp directory, ${name}
// interpolates an environment/system property, and a "secure" mode
// rejects any input containing either token outright.
package pathexpand

import (
	"fmt"
	"os"
	"strings"
)

// ErrInsecurePath is returned by ExpandSecure when path contains a
// substitution token.
var ErrInsecurePath = fmt.Errorf("pathexpand: path contains a substitution token")

// Expand resolves a leading %TEMP%, %TEMP%/ or %TEMP%<sep> to the
// system temp directory, then interpolates every ${name} reference
// against lookup (typically os.LookupEnv).
func Expand(path string, lookup func(name string) (string, bool)) (string, error) {
	path = expandLeadingTemp(path)
	return expandBraces(path, lookup)
}

// ExpandSecure rejects any path containing a '%' or "${" substitution
// token outright, to defeat injection from untrusted input.
func ExpandSecure(path string) (string, error) {
	if strings.Contains(path, "%") || strings.Contains(path, "${") {
		return "", ErrInsecurePath
	}
	return path, nil
}

func expandLeadingTemp(path string) string {
	const marker = "%TEMP%"
	if !strings.HasPrefix(path, marker) {
		return path
	}
	rest := path[len(marker):]
	tmp := os.TempDir()
	if rest == "" {
		return tmp
	}
	if rest[0] == '/' || os.IsPathSeparator(rest[0]) {
		return tmp + rest
	}
	return tmp + string(os.PathSeparator) + rest
}

func expandBraces(path string, lookup func(string) (string, bool)) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '$' && i+1 < len(path) && path[i+1] == '{' {
			end := strings.IndexByte(path[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("pathexpand: unterminated ${ in %q", path)
			}
			name := path[i+2 : i+2+end]
			val, ok := lookup(name)
			if !ok {
				return "", fmt.Errorf("pathexpand: undefined substitution %q", name)
			}
			out.WriteString(val)
			i += 2 + end + 1
			continue
		}
		out.WriteByte(path[i])
		i++
	}
	return out.String(), nil
}
