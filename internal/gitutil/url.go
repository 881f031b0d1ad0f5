package gitutil

import (
	"fmt"
	"regexp"
	"strings"
)

var repoURLRegex = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+?)(?:\.git)?$`)

// ParseRepositoryURL extracts the "owner/name" full name from a GitHub
// repository URL. Supported formats:
// https://github.com/{owner}/{repo}(.git) and git@github.com:{owner}/{repo}.git
func ParseRepositoryURL(url string) (string, error) {
	url = strings.TrimSuffix(url, "/")

	matches := repoURLRegex.FindStringSubmatch(url)
	if len(matches) != 3 || matches[2] == "" {
		return "", fmt.Errorf("invalid repository URL format: %s", url)
	}
	return matches[1] + "/" + matches[2], nil
}

// CloneURLFor returns the HTTPS clone URL of a GitHub repository full name.
func CloneURLFor(fullName string) string {
	return "https://github.com/" + fullName + ".git"
}
