package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/types"
)

type jsonSeedEntry struct {
	ID   string `json:"id"`
	Plan string `json:"plan"`
}

// ParseSeedKeys turns one of the four MAILTESTER_KEYS_* encodings into a
// flat []SeedKey. source is the tag ResolveSeedKeys returned;
// defaultPlan is only consulted for the "plain" source.
func ParseSeedKeys(source, raw, defaultPlan string) ([]types.SeedKey, error) {
	switch source {
	case "":
		return nil, nil
	case "json", "json_path":
		var entries []jsonSeedEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("parse seed keys json: %w", err)
		}
		out := make([]types.SeedKey, 0, len(entries))
		for _, e := range entries {
			if e.ID == "" {
				continue
			}
			out = append(out, types.SeedKey{SubscriptionID: e.ID, Plan: e.Plan})
		}
		return out, nil
	case "with_plan":
		var out []types.SeedKey
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			parts := strings.SplitN(pair, ":", 2)
			id := strings.TrimSpace(parts[0])
			if id == "" {
				continue
			}
			plan := ""
			if len(parts) == 2 {
				plan = strings.TrimSpace(parts[1])
			}
			out = append(out, types.SeedKey{SubscriptionID: id, Plan: plan})
		}
		return out, nil
	case "plain":
		var out []types.SeedKey
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			out = append(out, types.SeedKey{SubscriptionID: id, Plan: defaultPlan})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown seed key source %q", source)
	}
}
