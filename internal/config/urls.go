package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ReadURLs reads one URL per line, skipping blank lines and lines
// starting with "#".
func ReadURLs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening urls file")
	}
	defer file.Close()
	var out []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading urls file")
	}
	return out, nil
}

// AllURLs returns the URLs of the URLs file, if any, followed by
// the URLs listed in the config.
func (c *Config) AllURLs() ([]string, error) {
	var out []string
	if c.URLsFile != "" {
		urls, err := ReadURLs(c.URLsFile)
		if err != nil {
			return nil, err
		}
		out = append(out, urls...)
	}
	return append(out, c.URLs...), nil
}
