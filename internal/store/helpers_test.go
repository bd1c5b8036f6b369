package store

import "os"

func writeFile(path, s string) error { return os.WriteFile(path, []byte(s), 0644) }

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
