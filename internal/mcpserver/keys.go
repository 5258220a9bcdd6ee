package mcpserver

import (
	"fmt"
	"strconv"
	"strings"
)

var specialKeys = map[string]string{
	"RETURN":    "\n",
	"ENTER":     "\n",
	"SPACE":     " ",
	"TAB":       "\t",
	"ESC":       "\x1b",
	"ESCAPE":    "\x1b",
	"DELETE":    "\x7f",
	"BACKSPACE": "\x7f",
	"BREAK":     "\x03",
}

// TranslateKey turns a key name into the characters to inject: a special
// name such as RETURN or ESC, SHIFT+<char>, CTRL+<letter>, or a literal
// character. Unrecognized names are returned unchanged.
func TranslateKey(key string) string {
	upper := strings.ToUpper(strings.TrimSpace(key))
	if s, ok := specialKeys[upper]; ok {
		return s
	}

	if modifier, char, ok := strings.Cut(upper, "+"); ok {
		char = strings.TrimSpace(char)
		if len(char) == 1 {
			switch modifier {
			case "SHIFT":
				return char
			case "CTRL":
				if c := char[0]; c >= 'A' && c <= 'Z' {
					return string(rune(c - 'A' + 1))
				}
			}
		}
	}
	return key
}

// parseHexBytes accepts bytes separated by commas or whitespace, each
// optionally prefixed with $ or 0x.
func parseHexBytes(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no bytes given")
	}

	data := make([]byte, len(fields))
	for i, f := range fields {
		f = strings.TrimPrefix(f, "$")
		f = strings.TrimPrefix(strings.ToLower(f), "0x")
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q", fields[i])
		}
		data[i] = byte(v)
	}
	return data, nil
}

func checkAddress(name string, v int) (uint16, error) {
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("%s must be between 0 and 65535 (got %d)", name, v)
	}
	return uint16(v), nil
}

func checkByte(name string, v int) (byte, error) {
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("%s must be between 0 and 255 (got %d)", name, v)
	}
	return byte(v), nil
}

func checkDrive(v int) error {
	if v < 1 || v > 8 {
		return fmt.Errorf("drive must be between 1 and 8 (got %d)", v)
	}
	return nil
}
