package harness

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrUnknownPreset is returned for a preset name that is not configured.
var ErrUnknownPreset = errors.New("unknown preset")

// DefaultPresets are the sample models shipped with the demo page.
func DefaultPresets() map[string]string {
	return map[string]string{
		"Gearbox":        "/data/gear_box_final_asm.zcad",
		"Fidget-Spinner": "/data/Fidget-Spinner-2.zcad",
		"HC_SRO4":        "/data/HC_SRO4.zcad",
	}
}

// resolveURL joins a preset path onto base the way the page did: everything
// up to the last slash of base, followed by the preset path.
func resolveURL(base, p string) (string, error) {
	if base == "" {
		return p, nil
	}
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if i := strings.LastIndex(base, "/"); i >= 0 && !strings.HasSuffix(base[:i], ":/") {
		base = base[:i]
	}
	return base + p, nil
}

func presetNames(presets map[string]string) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
