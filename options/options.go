// Package options implements the option bag, its three-tier merge
// (global defaults ← per-service ← per-call, spec §4.6), and the
// construction-time auth option normalisation and header-split rule
// spec §4.6 describes.
//
// Grounded on rclone's own "fs.ConfigMap" layering in
// backend/swift/swift.go (global backend Options merged with
// connection-string overrides) generalized to a three-tier bag, decoded
// into typed structs with github.com/mitchellh/mapstructure the way
// rclone's fs/config/configstruct decodes a config section by hand.
package options

import (
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/relaypath/swiftengine/swifterr"
)

// Bag is a loosely-typed option mapping, the unit global defaults,
// per-service options, and per-call overrides are all expressed in.
type Bag map[string]interface{}

// Merge layers override on top of b, returning a new Bag; later layers
// win key-for-key. Used as Merge(Merge(global, service), call) to
// implement the per-call > per-service > global precedence (spec §4.6).
func (b Bag) Merge(override Bag) Bag {
	out := make(Bag, len(b)+len(override))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Decode maps the bag into dst (a pointer to a struct tagged with
// `mapstructure:"..."`), the way every typed *Options struct in this
// engine is produced from a raw Bag.
func Decode(b Bag, dst interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return swifterr.New(swifterr.KindInput, "decode_options", err)
	}
	if err := decoder.Decode(map[string]interface{}(b)); err != nil {
		return swifterr.New(swifterr.KindInput, "decode_options", err)
	}
	return nil
}

// AuthOptions is the recognised global auth option set (spec §4.6).
type AuthOptions struct {
	AuthVersion string                 `mapstructure:"auth_version"`
	Auth        string                 `mapstructure:"auth"`
	User        string                 `mapstructure:"user"`
	Key         string                 `mapstructure:"key"`
	OSAuthURL   string                 `mapstructure:"os_auth_url"`
	OSUsername  string                 `mapstructure:"os_username"`
	OSPassword  string                 `mapstructure:"os_password"`
	OSOptions   map[string]interface{} `mapstructure:"os_options"`
}

// validAuthVersions are the recognised auth_version values (spec §4.6).
var validAuthVersions = map[string]bool{
	"1": true, "1.0": true, "2": true, "2.0": true, "3": true,
}

// Normalize applies the construction-time processing rules spec §4.6
// describes: setting auth_version to 2.0 when it is not explicitly 3,
// 1 or 1.0 and the legacy auth/user/key trio is incomplete, copying
// os_* credentials over empty legacy ones, and always materialising
// os_options.
func (a *AuthOptions) Normalize() {
	legacyComplete := a.Auth != "" && a.User != "" && a.Key != ""
	if a.AuthVersion != "3" && a.AuthVersion != "1" && a.AuthVersion != "1.0" && !legacyComplete {
		a.AuthVersion = "2.0"
	}
	if a.Auth == "" && a.User == "" && a.Key == "" {
		if a.OSAuthURL != "" {
			a.Auth = a.OSAuthURL
		}
		if a.OSUsername != "" {
			a.User = a.OSUsername
		}
		if a.OSPassword != "" {
			a.Key = a.OSPassword
		}
	}
	if a.OSOptions == nil {
		a.OSOptions = map[string]interface{}{}
	}
}

// IsRecognizedAuthVersion reports whether v is one of the versions
// spec §4.6 lists as recognised, for callers that validate input
// ahead of Normalize. The empty string (unset) is also accepted.
func IsRecognizedAuthVersion(v string) bool {
	return v == "" || validAuthVersions[v]
}

// SplitHeaders applies the header-split rule (spec §4.6): each item has
// the form "Name:Value"; keys are title-cased and an optional prefix is
// prepended; an item lacking ":" fails with a domain error.
func SplitHeaders(items []string, prefix string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		idx := strings.IndexByte(item, ':')
		if idx < 0 {
			return nil, swifterr.Newf(swifterr.KindInput, "split_headers", "header %q is missing ':'", item)
		}
		name := titleCase(strings.TrimSpace(item[:idx]))
		value := strings.TrimSpace(item[idx+1:])
		out[prefix+name] = value
	}
	return out, nil
}

// titleCase title-cases a header name component-wise on "-", e.g.
// "content-type" -> "Content-Type", matching how Swift renders custom
// object metadata headers.
func titleCase(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// SortedKeys returns b's keys sorted, useful for deterministic logging
// and tests.
func (b Bag) SortedKeys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
