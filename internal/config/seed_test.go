package config

import (
	"testing"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/types"
)

func TestResolveSeedKeys_PriorityOrder(t *testing.T) {
	cfg := &types.Config{
		KeysJSON:        "",
		KeysJSONPath:    "",
		KeysWithPlan:    "a:pro",
		Keys:            "b,c",
		KeysDefaultPlan: "ultimate",
	}
	source, raw := ResolveSeedKeys(cfg)
	if source != "with_plan" || raw != "a:pro" {
		t.Fatalf("expected with_plan source to win, got %s/%s", source, raw)
	}

	cfg.KeysJSON = `[{"id":"z","plan":"pro"}]`
	source, raw = ResolveSeedKeys(cfg)
	if source != "json" {
		t.Fatalf("expected json source to win over all others, got %s/%s", source, raw)
	}
}

func TestParseSeedKeys_AllEncodings(t *testing.T) {
	keys, err := ParseSeedKeys("json", `[{"id":"a","plan":"pro"},{"id":"b","plan":"ultimate"}]`, "")
	if err != nil || len(keys) != 2 {
		t.Fatalf("json: got %v, err %v", keys, err)
	}

	keys, err = ParseSeedKeys("with_plan", "a:pro, b:ultimate", "")
	if err != nil || len(keys) != 2 || keys[0].Plan != "pro" {
		t.Fatalf("with_plan: got %v, err %v", keys, err)
	}

	keys, err = ParseSeedKeys("plain", "a, b", "ultimate")
	if err != nil || len(keys) != 2 || keys[0].Plan != "ultimate" || keys[1].Plan != "ultimate" {
		t.Fatalf("plain: got %v, err %v", keys, err)
	}

	keys, err = ParseSeedKeys("", "", "")
	if err != nil || keys != nil {
		t.Fatalf("empty: expected nil, got %v, err %v", keys, err)
	}
}
