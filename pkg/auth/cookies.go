package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"harvester/pkg/models"
)

// Session cookies a scraping identity cannot work without
var requiredCookies = []string{"auth_token", "ct0"}

type exportedCookie struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	UpperName  string `json:"Name"`
	UpperValue string `json:"Value"`
}

func (c exportedCookie) pair() (string, string) {
	name, value := c.Name, c.Value
	if name == "" {
		name = c.UpperName
	}
	if value == "" {
		value = c.UpperValue
	}
	return name, value
}

// ParseCookies reads a browser cookie export. Accepted shapes are a list of
// {"name","value"} objects, an object with a "cookies" list, or a flat
// name to value map.
func ParseCookies(data []byte) (map[string]string, error) {
	cookies := make(map[string]string)

	var list []exportedCookie
	if err := json.Unmarshal(data, &list); err == nil {
		addCookies(cookies, list)
		return cookies, nil
	}

	var wrapped struct {
		Cookies []exportedCookie `json:"cookies"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Cookies != nil {
		addCookies(cookies, wrapped.Cookies)
		return cookies, nil
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("unrecognised cookie export: %w", err)
	}
	for name, v := range flat {
		if value, ok := v.(string); ok && value != "" {
			cookies[name] = value
		}
	}
	return cookies, nil
}

func addCookies(dst map[string]string, list []exportedCookie) {
	for _, c := range list {
		if name, value := c.pair(); name != "" && value != "" {
			dst[name] = value
		}
	}
}

// ImportCookies builds an account for username from a cookie export file.
// It fails if auth_token or ct0 is missing.
func ImportCookies(username, path string) (*Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	cookies, err := ParseCookies(data)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range requiredCookies {
		if cookies[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing required cookies %s (export while logged in)",
			ErrInvalidCredentials, strings.Join(missing, ", "))
	}

	return &Account{
		Username:  username,
		AuthToken: cookies["auth_token"],
		CSRFToken: cookies["ct0"],
		Status:    models.AccountValid,
	}, nil
}

// ProxyFor returns the proxy an account at position gets, or "" with no proxies
func ProxyFor(position int, proxies []string) string {
	if len(proxies) == 0 || position < 0 {
		return ""
	}
	return proxies[position%len(proxies)]
}

// PositionOf returns where username sits among existing accounts for proxy
// rotation: its sorted index when re-imported, the next slot otherwise.
func PositionOf(username string, existing []*Account) int {
	names := make([]string, 0, len(existing))
	for _, a := range existing {
		names = append(names, a.Username)
	}
	sort.Strings(names)
	for i, name := range names {
		if name == username {
			return i
		}
	}
	return len(names)
}
